package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

func validateOutput(format string) error {
	switch format {
	case OutputJSON, OutputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// render writes v in the format selected by -o
func render(w io.Writer, v interface{}) error {
	v = plain(v)
	switch globals.output {
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}

// plain turns resources into generic objects and json.Number into Go
// numbers so both encoders print the same document
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case *resource.Resource:
		if t == nil {
			return nil
		}
		return plain(t.ToObject())
	case []*resource.Resource:
		out := make([]interface{}, len(t))
		for i, r := range t {
			out[i] = plain(r)
		}
		return out
	case resource.Sheet:
		return plain(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// readDocument loads a JSON or YAML object from path, or stdin for "-"
func readDocument(path string) (map[string]interface{}, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return doc, nil
}

// readResource loads a resource document from path
func readResource(path string) (*resource.Resource, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	r, err := resource.FromObject(normalizeYAML(doc).(map[string]interface{}))
	if err != nil {
		return nil, fmt.Errorf("invalid resource in %s: %w", path, err)
	}
	return r, nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no input file given (use -f)")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}

// normalizeYAML converts yaml.v3 values into the shapes encoding/json
// produces, which the resource decoder expects
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}

// parseParams turns repeated key=value flags into query values
func parseParams(params []string) (map[string][]string, error) {
	query := make(map[string][]string, len(params))
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", p)
		}
		query[key] = append(query[key], value)
	}
	return query, nil
}
