package metaapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

var (
	// ErrUnknownResource is returned when a resource type is not in the schema
	ErrUnknownResource = errors.New("unknown resource")
	// ErrUnknownSheet is returned when a sheet is not in the schema
	ErrUnknownSheet = errors.New("unknown sheet")
	// ErrUnknownField is returned when a sheet lacks the requested field
	ErrUnknownField = errors.New("unknown field")
)

// Query answers lookups against a schema document.
//
// A Query is never mutated after construction and may be shared by any
// number of clients and transactions.
type Query struct {
	resources map[string]*ResourceDescriptor
	sheets    map[string]*SheetDescriptor

	// Pre-computed indexes (built once in New)
	resourceNames []string
	sheetNames    []string
	sheetSets     map[string]map[string]struct{} // resource -> sheets it carries
}

// New indexes the schema. The schema must not be modified afterwards.
func New(schema Schema) *Query {
	q := &Query{
		resources: make(map[string]*ResourceDescriptor, len(schema.Resources)),
		sheets:    make(map[string]*SheetDescriptor, len(schema.Sheets)),
		sheetSets: make(map[string]map[string]struct{}, len(schema.Resources)),
	}

	for name, res := range schema.Resources {
		res := res
		q.resources[name] = &res
		q.resourceNames = append(q.resourceNames, name)

		set := make(map[string]struct{}, len(res.Sheets))
		for _, s := range res.Sheets {
			set[s] = struct{}{}
		}
		q.sheetSets[name] = set
	}

	for name, sheet := range schema.Sheets {
		sheet := sheet
		if sheet.Fields == nil {
			sheet.Fields = FieldSet{}
		}
		q.sheets[name] = &sheet
		q.sheetNames = append(q.sheetNames, name)
	}

	sort.Strings(q.resourceNames)
	sort.Strings(q.sheetNames)
	return q
}

// Parse decodes a meta_api JSON document and indexes it
func Parse(data []byte) (*Query, error) {
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta api: %w", err)
	}
	return New(schema), nil
}

// Resource returns the descriptor of a resource type
func (q *Query) Resource(name string) (ResourceDescriptor, error) {
	res, ok := q.resources[name]
	if !ok {
		return ResourceDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return *res, nil
}

// Sheet returns the descriptor of a sheet
func (q *Query) Sheet(name string) (SheetDescriptor, error) {
	sheet, ok := q.sheets[name]
	if !ok {
		return SheetDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownSheet, name)
	}
	return *sheet, nil
}

// Field returns the descriptor of a field in a sheet.
// An unknown sheet is reported before an unknown field.
func (q *Query) Field(sheetName, fieldName string) (FieldDescriptor, error) {
	sheet, err := q.Sheet(sheetName)
	if err != nil {
		return FieldDescriptor{}, err
	}
	field, ok := sheet.Fields[fieldName]
	if !ok {
		return FieldDescriptor{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, sheetName, fieldName)
	}
	return field, nil
}

// ResourceNames returns all resource type names, sorted
func (q *Query) ResourceNames() []string {
	return append([]string(nil), q.resourceNames...)
}

// SheetNames returns all sheet names, sorted
func (q *Query) SheetNames() []string {
	return append([]string(nil), q.sheetNames...)
}

// HasSheet reports whether resources of the given type carry the sheet
func (q *Query) HasSheet(resourceName, sheetName string) bool {
	set, ok := q.sheetSets[resourceName]
	if !ok {
		return false
	}
	_, ok = set[sheetName]
	return ok
}

// IsItem reports whether the resource type is an item, i.e. owns versions
func (q *Query) IsItem(resourceName string) bool {
	res, ok := q.resources[resourceName]
	return ok && res.ItemType != ""
}

// IsVersionable reports whether the resource type is a version
func (q *Query) IsVersionable(resourceName string) bool {
	return q.HasSheet(resourceName, resource.SheetVersionable)
}
