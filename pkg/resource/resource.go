// Package resource models the versioned, sheet-keyed resources exchanged with
// the adhocracy backend.
package resource

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Well-known sheet names used by the client itself
const (
	SheetVersionable = "adhocracy_core.sheets.versions.IVersionable"
	SheetTag         = "adhocracy_core.sheets.tags.ITag"
	SheetMetadata    = "adhocracy_core.sheets.metadata.IMetadata"
	SheetName        = "adhocracy_core.sheets.name.IName"
	SheetPool        = "adhocracy_core.sheets.pool.IPool"
)

// Well-known field names
const (
	FieldFollows  = "follows"
	FieldElements = "elements"
)

// Sheet is a named field group inside a resource's data
type Sheet map[string]interface{}

// Resource is the transport unit of the backend API
type Resource struct {
	ContentType      string           `json:"content_type" mapstructure:"content_type" yaml:"content_type"`
	Path             string           `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty"`
	FirstVersionPath string           `json:"first_version_path,omitempty" mapstructure:"first_version_path" yaml:"first_version_path,omitempty"`
	Data             map[string]Sheet `json:"data" mapstructure:"data" yaml:"data"`
	RootVersions     []string         `json:"root_versions,omitempty" mapstructure:"root_versions" yaml:"root_versions,omitempty"`
}

// New returns an empty resource of the given content type
func New(contentType string) *Resource {
	return &Resource{
		ContentType: contentType,
		Data:        make(map[string]Sheet),
	}
}

// FromObject decodes a JSON object (as produced by encoding/json into
// map[string]interface{}) into a Resource.
func FromObject(obj map[string]interface{}) (*Resource, error) {
	var r Resource
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		TagName:          "mapstructure",
		WeaklyTypedInput: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resource decoder: %w", err)
	}
	if err := decoder.Decode(obj); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	if r.Data == nil {
		r.Data = make(map[string]Sheet)
	}
	return &r, nil
}

// Clone returns a deep copy of the resource
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := &Resource{
		ContentType:      r.ContentType,
		Path:             r.Path,
		FirstVersionPath: r.FirstVersionPath,
	}
	if r.Data != nil {
		c.Data = make(map[string]Sheet, len(r.Data))
		for name, sheet := range r.Data {
			c.Data[name] = sheet.Clone()
		}
	}
	if r.RootVersions != nil {
		c.RootVersions = append([]string(nil), r.RootVersions...)
	}
	return c
}

// WithSheet returns a copy of r whose data carries sheet under name.
// The receiver is left untouched.
func (r *Resource) WithSheet(name string, sheet Sheet) *Resource {
	c := r.Clone()
	if c.Data == nil {
		c.Data = make(map[string]Sheet)
	}
	c.Data[name] = sheet.Clone()
	return c
}

// Sheet returns the named sheet and whether it is present
func (r *Resource) Sheet(name string) (Sheet, bool) {
	if r == nil || r.Data == nil {
		return nil, false
	}
	s, ok := r.Data[name]
	return s, ok
}

// Follows returns the IVersionable follows list of the resource, if any
func (r *Resource) Follows() []string {
	s, ok := r.Sheet(SheetVersionable)
	if !ok {
		return nil
	}
	return s.Strings(FieldFollows)
}

// ToObject renders the resource as a generic JSON object
func (r *Resource) ToObject() map[string]interface{} {
	obj := map[string]interface{}{
		"content_type": r.ContentType,
	}
	if r.Path != "" {
		obj["path"] = r.Path
	}
	if r.FirstVersionPath != "" {
		obj["first_version_path"] = r.FirstVersionPath
	}
	data := make(map[string]interface{}, len(r.Data))
	for name, sheet := range r.Data {
		data[name] = map[string]interface{}(sheet.Clone())
	}
	obj["data"] = data
	if len(r.RootVersions) > 0 {
		roots := make([]interface{}, len(r.RootVersions))
		for i, p := range r.RootVersions {
			roots[i] = p
		}
		obj["root_versions"] = roots
	}
	return obj
}

// Clone returns a deep copy of the sheet
func (s Sheet) Clone() Sheet {
	if s == nil {
		return nil
	}
	c := make(Sheet, len(s))
	for k, v := range s {
		c[k] = deepCopy(v)
	}
	return c
}

// Strings returns a string list field. Non-string elements are skipped.
func (s Sheet) Strings(field string) []string {
	switch v := s[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = deepCopy(e)
		}
		return c
	case Sheet:
		return t.Clone()
	case []interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = deepCopy(e)
		}
		return c
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
