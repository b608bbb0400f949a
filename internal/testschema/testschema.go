// Package testschema provides a small meta_api document shaped like the
// adhocracy core schema, for tests and the development backend.
package testschema

import (
	"testing"

	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
)

// Resource type names
const (
	Pool             = "adhocracy_core.resources.pool.IBasicPool"
	Proposal         = "adhocracy_core.resources.proposal.IProposal"
	ProposalVersion  = "adhocracy_core.resources.proposal.IProposalVersion"
	Paragraph        = "adhocracy_core.resources.paragraph.IParagraph"
	ParagraphVersion = "adhocracy_core.resources.paragraph.IParagraphVersion"
	Tag              = "adhocracy_core.resources.tag.ITag"
)

// Sheet names not covered by package resource
const (
	SheetDocument  = "adhocracy_core.sheets.document.IDocument"
	SheetParagraph = "adhocracy_core.sheets.document.IParagraph"
)

// Document is the raw meta_api JSON
const Document = `{
	"resources": {
		"adhocracy_core.resources.pool.IBasicPool": {
			"sheets": [
				"adhocracy_core.sheets.name.IName",
				"adhocracy_core.sheets.pool.IPool",
				"adhocracy_core.sheets.metadata.IMetadata"
			],
			"element_types": [
				"adhocracy_core.resources.pool.IBasicPool",
				"adhocracy_core.resources.proposal.IProposal"
			]
		},
		"adhocracy_core.resources.proposal.IProposal": {
			"sheets": [
				"adhocracy_core.sheets.name.IName",
				"adhocracy_core.sheets.pool.IPool",
				"adhocracy_core.sheets.metadata.IMetadata"
			],
			"element_types": [
				"adhocracy_core.resources.proposal.IProposalVersion",
				"adhocracy_core.resources.paragraph.IParagraph",
				"adhocracy_core.resources.tag.ITag"
			],
			"item_type": "adhocracy_core.resources.proposal.IProposalVersion"
		},
		"adhocracy_core.resources.proposal.IProposalVersion": {
			"sheets": [
				"adhocracy_core.sheets.versions.IVersionable",
				"adhocracy_core.sheets.document.IDocument",
				"adhocracy_core.sheets.metadata.IMetadata"
			],
			"super_types": ["adhocracy_core.interfaces.IItemVersion"]
		},
		"adhocracy_core.resources.paragraph.IParagraph": {
			"sheets": [
				"adhocracy_core.sheets.name.IName",
				"adhocracy_core.sheets.pool.IPool",
				"adhocracy_core.sheets.metadata.IMetadata"
			],
			"element_types": [
				"adhocracy_core.resources.paragraph.IParagraphVersion",
				"adhocracy_core.resources.tag.ITag"
			],
			"item_type": "adhocracy_core.resources.paragraph.IParagraphVersion"
		},
		"adhocracy_core.resources.paragraph.IParagraphVersion": {
			"sheets": [
				"adhocracy_core.sheets.versions.IVersionable",
				"adhocracy_core.sheets.document.IParagraph",
				"adhocracy_core.sheets.metadata.IMetadata"
			],
			"super_types": ["adhocracy_core.interfaces.IItemVersion"]
		},
		"adhocracy_core.resources.tag.ITag": {
			"sheets": ["adhocracy_core.sheets.tags.ITag"]
		}
	},
	"sheets": {
		"adhocracy_core.sheets.name.IName": {
			"fields": [
				{"name": "name", "valuetype": "adhocracy_core.schema.Name", "readable": true, "editable": false, "creatable": true, "create_mandatory": true}
			]
		},
		"adhocracy_core.sheets.pool.IPool": {
			"fields": [
				{"name": "elements", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "readable": true, "editable": false, "creatable": false, "create_mandatory": false}
			]
		},
		"adhocracy_core.sheets.metadata.IMetadata": {
			"fields": [
				{"name": "creation_date", "valuetype": "adhocracy_core.schema.DateTime", "readable": true, "editable": false, "creatable": false, "create_mandatory": false},
				{"name": "modification_date", "valuetype": "adhocracy_core.schema.DateTime", "readable": true, "editable": false, "creatable": false, "create_mandatory": false},
				{"name": "hidden", "valuetype": "adhocracy_core.schema.Boolean", "readable": true, "editable": true, "creatable": true, "create_mandatory": false}
			]
		},
		"adhocracy_core.sheets.versions.IVersionable": {
			"fields": [
				{"name": "follows", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "readable": true, "editable": true, "creatable": true, "create_mandatory": false},
				{"name": "followed_by", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "readable": true, "editable": false, "creatable": false, "create_mandatory": false}
			]
		},
		"adhocracy_core.sheets.document.IDocument": {
			"fields": [
				{"name": "title", "valuetype": "adhocracy_core.schema.SingleLine", "readable": true, "editable": true, "creatable": true, "create_mandatory": false},
				{"name": "description", "valuetype": "adhocracy_core.schema.Text", "readable": true, "editable": true, "creatable": true, "create_mandatory": false},
				{"name": "elements", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "targetsheet": "adhocracy_core.sheets.document.IParagraph", "readable": true, "editable": true, "creatable": true, "create_mandatory": false}
			]
		},
		"adhocracy_core.sheets.document.IParagraph": {
			"fields": [
				{"name": "content", "valuetype": "adhocracy_core.schema.Text", "readable": true, "editable": true, "creatable": true, "create_mandatory": false},
				{"name": "documents", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "readable": true, "editable": false, "creatable": false, "create_mandatory": false}
			]
		},
		"adhocracy_core.sheets.tags.ITag": {
			"fields": [
				{"name": "elements", "valuetype": "adhocracy_core.schema.AbsolutePath", "containertype": "list", "readable": true, "editable": true, "creatable": true, "create_mandatory": false}
			]
		}
	}
}`

// Query parses Document, failing the test on error
func Query(t testing.TB) *metaapi.Query {
	t.Helper()
	q, err := metaapi.Parse([]byte(Document))
	if err != nil {
		t.Fatalf("failed to parse test schema: %v", err)
	}
	return q
}

// MustQuery parses Document, panicking on error
func MustQuery() *metaapi.Query {
	q, err := metaapi.Parse([]byte(Document))
	if err != nil {
		panic(err)
	}
	return q
}
