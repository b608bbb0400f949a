// Package convert validates backend replies on the way in and strips
// server-owned fields from resources on the way out.
package convert

import (
	"errors"
	"fmt"
	"sort"

	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

// ErrUnexpectedResponseType is returned when a reply is not the expected JSON shape
var ErrUnexpectedResponseType = errors.New("unexpected response type")

// maxRenderedValue bounds the value rendering kept in errors
const maxRenderedValue = 200

// UnexpectedResponseTypeError records what was received instead of an object
type UnexpectedResponseTypeError struct {
	Expected string
	Type     string
	Value    string
}

func (e *UnexpectedResponseTypeError) Error() string {
	return fmt.Sprintf("unexpected response type: expected %s, got %s: %s", e.Expected, e.Type, e.Value)
}

func (e *UnexpectedResponseTypeError) Unwrap() error {
	return ErrUnexpectedResponseType
}

func unexpected(expected string, v interface{}) error {
	rendered := fmt.Sprintf("%v", v)
	if len(rendered) > maxRenderedValue {
		rendered = rendered[:maxRenderedValue] + "..."
	}
	return &UnexpectedResponseTypeError{
		Expected: expected,
		Type:     fmt.Sprintf("%T", v),
		Value:    rendered,
	}
}

// ImportContent returns the body of resp if it is a JSON object. The object
// is returned as is, not copied.
func ImportContent(resp *transport.Response) (map[string]interface{}, error) {
	if resp == nil {
		return nil, unexpected("object", nil)
	}
	obj, ok := resp.Body.(map[string]interface{})
	if !ok {
		return nil, unexpected("object", resp.Body)
	}
	return obj, nil
}

// ImportResource runs ImportContent and decodes the object into a Resource
func ImportResource(resp *transport.Response) (*resource.Resource, error) {
	obj, err := ImportContent(resp)
	if err != nil {
		return nil, err
	}
	return resource.FromObject(obj)
}

// ImportBatchContent unpacks a batch reply. Each entry carries its payload
// under "body"; the result lines up positionally with the submitted requests.
func ImportBatchContent(resp *transport.Response) ([]*resource.Resource, error) {
	if resp == nil {
		return nil, unexpected("array", nil)
	}
	entries, ok := resp.Body.([]interface{})
	if !ok {
		return nil, unexpected("array", resp.Body)
	}

	resources := make([]*resource.Resource, len(entries))
	for i, entry := range entries {
		item, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("batch item %d: %w", i, unexpected("object", entry))
		}
		r, err := ImportResource(&transport.Response{
			StatusCode: statusCode(item, resp.StatusCode),
			Header:     resp.Header,
			Body:       item["body"],
		})
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		resources[i] = r
	}
	return resources, nil
}

// statusCode reads the per-item "code" of a batch entry
func statusCode(item map[string]interface{}, fallback int) int {
	switch c := item["code"].(type) {
	case float64:
		return int(c)
	case int:
		return c
	case interface{ Int64() (int64, error) }:
		if n, err := c.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// ExportContent returns a copy of r fit for sending: fields the schema does
// not declare editable, creatable or create_mandatory are removed, sheets
// left empty are dropped, and the path is cleared. r is not modified.
func ExportContent(q *metaapi.Query, r *resource.Resource) (*resource.Resource, error) {
	if r == nil {
		return nil, errors.New("cannot export nil resource")
	}
	out := r.Clone()
	out.Path = ""

	sheetNames := make([]string, 0, len(out.Data))
	for name := range out.Data {
		sheetNames = append(sheetNames, name)
	}
	sort.Strings(sheetNames)

	for _, sheetName := range sheetNames {
		sheet := out.Data[sheetName]
		for fieldName := range sheet {
			field, err := q.Field(sheetName, fieldName)
			if err != nil {
				return nil, fmt.Errorf("failed to export %s: %w", r.ContentType, err)
			}
			if !field.Writable() {
				delete(sheet, fieldName)
			}
		}
		if len(sheet) == 0 {
			delete(out.Data, sheetName)
		}
	}
	return out, nil
}

