// Package metaapi describes the backend's resource and sheet schema and answers
// lookups against it.
package metaapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Schema is the meta_api document served by the backend
type Schema struct {
	Resources map[string]ResourceDescriptor `json:"resources"` // Resource type name -> descriptor
	Sheets    map[string]SheetDescriptor    `json:"sheets"`    // Sheet name -> descriptor
}

// ResourceDescriptor describes one resource type
type ResourceDescriptor struct {
	Sheets       []string `json:"sheets"`                  // Sheets a resource of this type carries
	SuperTypes   []string `json:"super_types,omitempty"`   // Interfaces the type extends
	ElementTypes []string `json:"element_types,omitempty"` // Types that may be posted into it
	ItemType     string   `json:"item_type,omitempty"`     // Version type, set for items only
}

// SheetDescriptor describes one sheet
type SheetDescriptor struct {
	Fields FieldSet `json:"fields"`
}

// FieldDescriptor carries the server-declared access flags of a field
type FieldDescriptor struct {
	Name            string `json:"name,omitempty"`
	ValueType       string `json:"valuetype,omitempty"`
	ContainerType   string `json:"containertype,omitempty"`
	TargetSheet     string `json:"targetsheet,omitempty"`
	Readable        bool   `json:"readable"`
	Editable        bool   `json:"editable"`
	Creatable       bool   `json:"creatable"`
	CreateMandatory bool   `json:"create_mandatory"`
}

// Writable reports whether the field may ever be sent to the backend
func (f FieldDescriptor) Writable() bool {
	return f.Editable || f.Creatable || f.CreateMandatory
}

// FieldSet maps field names to descriptors.
//
// On the wire it is either an object keyed by field name or a list of
// descriptors each carrying its own name; both decode to the same value.
type FieldSet map[string]FieldDescriptor

// UnmarshalJSON accepts both the object and the list encoding
func (fs *FieldSet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*fs = FieldSet{}
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []FieldDescriptor
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("failed to decode field list: %w", err)
		}
		set := make(FieldSet, len(list))
		for i, f := range list {
			if f.Name == "" {
				return fmt.Errorf("field #%d has no name", i)
			}
			set[f.Name] = f
		}
		*fs = set
		return nil
	}

	var m map[string]FieldDescriptor
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return fmt.Errorf("failed to decode field map: %w", err)
	}
	set := make(FieldSet, len(m))
	for name, f := range m {
		f.Name = name
		set[name] = f
	}
	*fs = set
	return nil
}

// Names returns the field names in sorted order
func (fs FieldSet) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
