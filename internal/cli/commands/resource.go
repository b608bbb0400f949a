package commands

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/adhocracy/adhocracy-client/internal/cli/ui"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

var (
	getParams []string

	writeFile string

	newVersionRoots  []string
	newVersionNoFork bool
)

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch a resource",
		Long: `Fetch a resource and print it.

Query parameters are passed with --param. Pools understand content_type,
elements (paths, content or omit), count, limit, offset and reverse.`,
		Example: `  adhocracyctl get /
  adhocracyctl get / --param content_type=adhocracy_core.resources.proposal.IProposal --param count=true
  adhocracyctl get /proposals/kiezkasse/VERSION_0000001 -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}
	cmd.Flags().StringArrayVar(&getParams, "param", nil, "Query parameter as key=value (repeatable)")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	query, err := parseParams(getParams)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.client.GetWithQuery(cmd.Context(), args[0], url.Values(query))
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), r)
}

// NewLastCommand creates the last command
func NewLastCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "last <item>",
		Short: "Print the path of the newest version of an item",
		Long: `Read the LAST tag of an item and print the head version path.

With --strict the command fails if the item has forked into several heads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			lookup := a.client.NewestVersionPath
			if strict {
				lookup = a.client.NewestVersionPathNoFork
			}
			head, err := lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]interface{}{"item": args[0], "head": head})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the item has more than one head")
	return cmd
}

// NewOptionsCommand creates the options command
func NewOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options <path>",
		Short: "Show the methods allowed on a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			allowed, err := a.client.Options(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			methods := make([]interface{}, len(allowed.Methods))
			for i, m := range allowed.Methods {
				methods[i] = m
			}
			return render(cmd.OutOrStdout(), map[string]interface{}{
				"path":    args[0],
				"methods": methods,
				"body":    allowed.Body,
			})
		},
	}
}

// NewPostCommand creates the post command
func NewPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <container>",
		Short: "Create a resource inside a pool or item",
		Long: `Create a resource from a JSON or YAML document.

Fields the schema does not allow to be written are dropped before sending.`,
		Example: `  adhocracyctl post / -f proposal.yml
  cat proposal.json | adhocracyctl post /proposals -f -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(a *app, r *resource.Resource) (*resource.Resource, error) {
				return a.client.Post(cmd.Context(), args[0], r)
			})
		},
	}
	cmd.Flags().StringVarP(&writeFile, "file", "f", "", "Resource document, - for stdin")
	return cmd
}

// NewPutCommand creates the put command
func NewPutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Update a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(a *app, r *resource.Resource) (*resource.Resource, error) {
				return a.client.Put(cmd.Context(), args[0], r)
			})
		},
	}
	cmd.Flags().StringVarP(&writeFile, "file", "f", "", "Resource document, - for stdin")
	return cmd
}

func runWrite(cmd *cobra.Command, write func(a *app, r *resource.Resource) (*resource.Resource, error)) error {
	r, err := readResource(writeFile)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := write(a, r)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), result)
}

// NewNewVersionCommand creates the new-version command
func NewNewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new-version <old-version>",
		Short: "Post a version that follows an existing one",
		Long: `Post the document as the successor of <old-version>.

The follows field is set to exactly <old-version>. With --no-fork the
command retries after the current head when another writer got there
first, instead of failing.`,
		Example: `  adhocracyctl new-version /proposals/kiezkasse/VERSION_0000000 -f draft.yml
  adhocracyctl new-version /proposals/kiezkasse/VERSION_0000003 -f draft.yml --no-fork`,
		Args: cobra.ExactArgs(1),
		RunE: runNewVersion,
	}
	cmd.Flags().StringVarP(&writeFile, "file", "f", "", "Version document, - for stdin")
	cmd.Flags().StringArrayVar(&newVersionRoots, "root", nil, "Root version path (repeatable)")
	cmd.Flags().BoolVar(&newVersionNoFork, "no-fork", false, "Retry after the current head on a no-fork error")
	return cmd
}

func runNewVersion(cmd *cobra.Command, args []string) error {
	r, err := readResource(writeFile)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if !newVersionNoFork {
		created, err := a.client.PostNewVersion(cmd.Context(), args[0], r, newVersionRoots...)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), created)
	}

	result, err := a.client.PostNewVersionNoFork(cmd.Context(), args[0], r, newVersionRoots...)
	if err != nil {
		return err
	}
	if result.ParentChanged {
		cmd.PrintErrln(ui.FormatSuccess("head moved, posted after "+result.Follows, globals.noColor))
	}
	return render(cmd.OutOrStdout(), result.Resource)
}
