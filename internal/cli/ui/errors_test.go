package ui

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
)

func TestFormatError(t *testing.T) {
	out := FormatError(ErrorOptions{
		Context:      "backend",
		Problem:      "request rejected (status 400)",
		Details:      []string{"name (body): Required"},
		Suggestions:  []string{"IName"},
		HelpCommands: []string{"adhocracyctl meta resources"},
		NoColor:      true,
	})

	assert.Equal(t, "ERROR BACKEND: request rejected (status 400)\n"+
		"   name (body): Required\n"+
		"\n"+
		"   Did you mean: IName?\n"+
		"\n"+
		"   -> adhocracyctl meta resources\n", out)
}

func TestWriteError_Backend(t *testing.T) {
	err := fmt.Errorf("get /p: %w", &apierrors.BackendError{
		StatusCode: 404,
		Errors:     []apierrors.ErrorDetail{{Name: "path", Location: "url", Description: "not found"}},
	})

	var buf bytes.Buffer
	WriteError(&buf, err, true)
	assert.Equal(t, "ERROR BACKEND: request rejected (status 404)\n   path (url): not found\n", buf.String())
}

func TestWriteError_Batch(t *testing.T) {
	err := &apierrors.BatchError{
		BackendError: apierrors.BackendError{
			StatusCode: 400,
			Errors:     []apierrors.ErrorDetail{{Name: "data.x", Location: "body", Description: "No fork allowed"}},
		},
		Index: 2,
	}

	opts := ErrorOptionsFor(err, true)
	assert.Equal(t, "batch", opts.Context)
	assert.Equal(t, "request 2 rejected (status 400)", opts.Problem)
	assert.Equal(t, []string{"data.x (body): No fork allowed"}, opts.Details)
}

func TestWriteError_Plain(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, errors.New("connection refused"), true)
	assert.Equal(t, "ERROR: connection refused\n", buf.String())
}

func TestWriteError_NotFound(t *testing.T) {
	err := NewNotFoundError("sheet", "IDocumnt", []string{"adhocracy_core.sheets.document.IDocument"})

	var buf bytes.Buffer
	WriteError(&buf, fmt.Errorf("meta: %w", err), true)
	assert.Contains(t, buf.String(), `ERROR SHEET NOT FOUND: cannot find sheet "IDocumnt"`)
	assert.Contains(t, buf.String(), "Did you mean: adhocracy_core.sheets.document.IDocument?")
}

func TestFormatSuccess(t *testing.T) {
	assert.Equal(t, "OK committed", FormatSuccess("committed", true))
}
