package commands

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adhocracy/adhocracy-client/internal/cli/ui"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transaction"
)

// firstVersionSuffix selects the first version of a named item: $doc.first_version
const firstVersionSuffix = ".first_version"

var (
	batchFile   string
	batchDryRun bool
)

// batchDocument is the file format read by the batch command
type batchDocument struct {
	Requests []batchOperation `yaml:"requests"`
}

// batchOperation is one request. Later operations refer to the resource
// created by an operation through "$" + As.
type batchOperation struct {
	Method string                 `yaml:"method"`
	Path   string                 `yaml:"path"`
	As     string                 `yaml:"as"`
	Body   map[string]interface{} `yaml:"body"`
}

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run several dependent requests as one transaction",
		Long: `Read a list of requests and commit them in a single batch.

A POST may be named with "as". Later requests use "$name" for the path of
the created resource and "$name.first_version" for the first version of a
created item, in paths and anywhere in bodies. The backend either applies
every request or none.`,
		Example: `  # ops.yml
  requests:
    - method: POST
      path: /
      as: doc
      body:
        content_type: adhocracy_core.resources.proposal.IProposal
        data:
          adhocracy_core.sheets.name.IName: {name: kiezkasse}
    - method: POST
      path: $doc
      body:
        content_type: adhocracy_core.resources.proposal.IProposalVersion
        data:
          adhocracy_core.sheets.versions.IVersionable:
            follows: [$doc.first_version]

  adhocracyctl batch -f ops.yml --dry-run
  adhocracyctl batch -f ops.yml`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}
	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "Batch document, - for stdin")
	cmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Print the batch request instead of sending it")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	raw, err := readInput(batchFile)
	if err != nil {
		return err
	}
	var doc batchDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", batchFile, err)
	}
	if len(doc.Requests) == 0 {
		return fmt.Errorf("%s contains no requests", batchFile)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	tx := a.client.NewTransaction()
	if err := enqueue(tx, doc.Requests); err != nil {
		return err
	}

	if batchDryRun {
		return render(cmd.OutOrStdout(), tx.Requests())
	}

	responses, err := tx.Commit(cmd.Context())
	if err != nil {
		return err
	}
	cmd.PrintErrln(ui.FormatSuccess(fmt.Sprintf("committed %d requests", len(responses)), globals.noColor))
	return render(cmd.OutOrStdout(), []*resource.Resource(responses))
}

// enqueue adds ops to tx in order, replacing $name references with the
// preliminary paths of earlier posts
func enqueue(tx *transaction.Transaction, ops []batchOperation) error {
	refs := make(map[string]transaction.Ref)

	for i, op := range ops {
		path, err := substitute(op.Path, refs)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}

		var body *resource.Resource
		if op.Body != nil {
			value, err := substituteValue(normalizeYAML(op.Body), refs)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			body, err = resource.FromObject(value.(map[string]interface{}))
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
		}

		var ref transaction.Ref
		switch strings.ToUpper(op.Method) {
		case http.MethodGet:
			ref, err = tx.Get(path)
		case http.MethodPut:
			if body == nil {
				return fmt.Errorf("request %d: PUT needs a body", i)
			}
			ref, err = tx.Put(path, body)
		case http.MethodPost:
			if body == nil {
				return fmt.Errorf("request %d: POST needs a body", i)
			}
			ref, err = tx.Post(path, body)
		default:
			return fmt.Errorf("request %d: unsupported method %q", i, op.Method)
		}
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}

		if op.As != "" {
			if _, dup := refs[op.As]; dup {
				return fmt.Errorf("request %d: name %q is already used", i, op.As)
			}
			refs[op.As] = ref
		}
	}
	return nil
}

// substitute resolves "$name", "$name.first_version" and "$name/rest"
func substitute(s string, refs map[string]transaction.Ref) (string, error) {
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	name, rest, _ := strings.Cut(s[1:], "/")

	firstVersion := false
	if strings.HasSuffix(name, firstVersionSuffix) {
		name = strings.TrimSuffix(name, firstVersionSuffix)
		firstVersion = true
	}

	ref, ok := refs[name]
	if !ok {
		return "", fmt.Errorf("unknown reference $%s", name)
	}
	path := ref.Path
	if firstVersion {
		if ref.FirstVersionPath == "" {
			return "", fmt.Errorf("$%s has no first version", name)
		}
		path = ref.FirstVersionPath
	}
	if rest != "" {
		path = resource.Join(path, rest)
	}
	return path, nil
}

func substituteValue(v interface{}, refs map[string]transaction.Ref) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return substitute(t, refs)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			s, err := substituteValue(e, refs)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			s, err := substituteValue(e, refs)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return v, nil
	}
}
