package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adhocracy/adhocracy-client/internal/cli/ui"
	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
)

// NewMetaCommand creates the meta command group
func NewMetaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Inspect the backend schema",
		Long: `Inspect the resource types, sheets and fields the backend declares.

Names may be given in full or by their last segment, e.g. IProposal.
Tables are printed unless -o is given explicitly.`,
	}
	cmd.AddCommand(newMetaResourcesCommand())
	cmd.AddCommand(newMetaSheetCommand())
	cmd.AddCommand(newMetaFieldCommand())
	return cmd
}

func newMetaResourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List resource types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, closeApp, err := loadMeta(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			names := meta.ResourceNames()
			if structuredOutput(cmd) {
				out := make(map[string]interface{}, len(names))
				for _, name := range names {
					desc, _ := meta.Resource(name)
					out[name] = map[string]interface{}{
						"sheets":        toList(desc.Sheets),
						"element_types": toList(desc.ElementTypes),
						"item_type":     desc.ItemType,
					}
				}
				return render(cmd.OutOrStdout(), out)
			}

			table := ui.NewTable(cmd.OutOrStdout(), globals.noColor, "RESOURCE", "KIND", "SHEETS", "ELEMENT TYPES")
			for _, name := range names {
				desc, _ := meta.Resource(name)
				table.AddRow(name, resourceKind(meta, name), fmt.Sprint(len(desc.Sheets)), fmt.Sprint(len(desc.ElementTypes)))
			}
			table.Render()
			return nil
		},
	}
}

func newMetaSheetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sheet <name>",
		Short: "Show the fields of a sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, closeApp, err := loadMeta(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			name, err := resolveName("sheet", args[0], meta.SheetNames())
			if err != nil {
				return err
			}
			sheet, err := meta.Sheet(name)
			if err != nil {
				return err
			}

			if structuredOutput(cmd) {
				out := make(map[string]interface{}, len(sheet.Fields))
				for _, field := range sheet.Fields.Names() {
					out[field] = fieldObject(sheet.Fields[field])
				}
				return render(cmd.OutOrStdout(), map[string]interface{}{name: out})
			}

			w := cmd.OutOrStdout()
			ui.Header(w, name, globals.noColor)
			table := ui.NewTable(w, globals.noColor, "FIELD", "TYPE", "READ", "EDIT", "CREATE", "MANDATORY")
			for _, field := range sheet.Fields.Names() {
				f := sheet.Fields[field]
				table.AddRow(field, valueType(f), yesNo(f.Readable), yesNo(f.Editable), yesNo(f.Creatable), yesNo(f.CreateMandatory))
			}
			table.Render()
			return nil
		},
	}
}

func newMetaFieldCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "field <sheet> <field>",
		Short: "Show one field of a sheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, closeApp, err := loadMeta(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			sheetName, err := resolveName("sheet", args[0], meta.SheetNames())
			if err != nil {
				return err
			}
			sheet, err := meta.Sheet(sheetName)
			if err != nil {
				return err
			}
			f, err := meta.Field(sheetName, args[1])
			if err != nil {
				return ui.NewNotFoundError("field", args[1], sheet.Fields.Names())
			}

			if structuredOutput(cmd) {
				return render(cmd.OutOrStdout(), fieldObject(f))
			}
			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), globals.noColor)
			kv.AddRow("sheet", sheetName)
			kv.AddRow("field", args[1])
			kv.AddRow("type", valueType(f))
			if f.TargetSheet != "" {
				kv.AddRow("target sheet", f.TargetSheet)
			}
			kv.AddRow("readable", yesNo(f.Readable))
			kv.AddRow("editable", yesNo(f.Editable))
			kv.AddRow("creatable", yesNo(f.Creatable))
			kv.AddRow("create mandatory", yesNo(f.CreateMandatory))
			kv.AddRow("sent on write", yesNo(f.Writable()))
			kv.Render()
			return nil
		},
	}
}

func loadMeta(cmd *cobra.Command) (*metaapi.Query, func(), error) {
	a, err := newApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return a.client.Meta(), a.close, nil
}

// structuredOutput reports whether -o was passed explicitly
func structuredOutput(cmd *cobra.Command) bool {
	f := cmd.Flag("output")
	return f != nil && f.Changed
}

// resolveName accepts a full schema name or a unique last segment
func resolveName(kind, name string, candidates []string) (string, error) {
	var matches []string
	for _, c := range candidates {
		if c == name {
			return c, nil
		}
		if strings.HasSuffix(c, "."+name) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", ui.NewNotFoundError(kind, name, candidates)
	default:
		return "", fmt.Errorf("%s %q is ambiguous: %s", kind, name, strings.Join(matches, ", "))
	}
}

func resourceKind(meta *metaapi.Query, name string) string {
	switch {
	case meta.IsItem(name):
		return "item"
	case meta.IsVersionable(name):
		return "version"
	default:
		return "simple"
	}
}

func fieldObject(f metaapi.FieldDescriptor) map[string]interface{} {
	return map[string]interface{}{
		"valuetype":        f.ValueType,
		"containertype":    f.ContainerType,
		"targetsheet":      f.TargetSheet,
		"readable":         f.Readable,
		"editable":         f.Editable,
		"creatable":        f.Creatable,
		"create_mandatory": f.CreateMandatory,
	}
}

func valueType(f metaapi.FieldDescriptor) string {
	t := f.ValueType
	if idx := strings.LastIndex(t, "."); idx >= 0 {
		t = t[idx+1:]
	}
	if f.ContainerType != "" {
		return f.ContainerType + "<" + t + ">"
	}
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func toList(list []string) []interface{} {
	out := make([]interface{}, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
