package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
)

// ErrorOptions describes a failure shown to the user
type ErrorOptions struct {
	Context      string
	Problem      string
	Details      []string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders a multi-line error report:
//
//	ERROR BACKEND: request rejected (status 400)
//	   data.adhocracy_core.sheets.name.IName.name (body): Required
//
//	   -> Show writable fields: adhocracyctl meta sheet <sheet>
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	header := color.New(color.FgRed, color.Bold)
	body := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	if opts.NoColor {
		header.DisableColor()
		body.DisableColor()
		yellow.DisableColor()
		cyan.DisableColor()
	}

	if opts.Context != "" {
		header.Fprintf(&b, "ERROR %s: %s\n", strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "ERROR: %s\n", opts.Problem)
	}
	for _, d := range opts.Details {
		body.Fprintf(&b, "   %s\n", d)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}
	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   -> %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes the report for err. Backend errors list every error
// detail; anything else is printed as a single line.
func WriteError(w io.Writer, err error, noColor bool) {
	fmt.Fprint(w, FormatError(ErrorOptionsFor(err, noColor)))
}

// ErrorOptionsFor describes err for FormatError
func ErrorOptionsFor(err error, noColor bool) ErrorOptions {
	var batchErr *apierrors.BatchError
	if errors.As(err, &batchErr) {
		return ErrorOptions{
			Context: "batch",
			Problem: fmt.Sprintf("request %d rejected (status %d)", batchErr.Index, batchErr.StatusCode),
			Details: details(batchErr.Errors),
			HelpCommands: []string{
				"Inspect the queued requests: adhocracyctl batch --dry-run -f <file>",
			},
			NoColor: noColor,
		}
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return ErrorOptions{
			Context:      notFound.Kind + " not found",
			Problem:      notFound.Error(),
			Suggestions:  notFound.Suggestions,
			HelpCommands: []string{"List resource types: adhocracyctl meta resources"},
			NoColor:      noColor,
		}
	}

	var backendErr *apierrors.BackendError
	if errors.As(err, &backendErr) {
		return ErrorOptions{
			Context: "backend",
			Problem: fmt.Sprintf("request rejected (status %d)", backendErr.StatusCode),
			Details: details(backendErr.Errors),
			NoColor: noColor,
		}
	}

	return ErrorOptions{Problem: err.Error(), NoColor: noColor}
}

func details(errs []apierrors.ErrorDetail) []string {
	out := make([]string, len(errs))
	for i, d := range errs {
		out[i] = d.String()
	}
	return out
}

// NotFoundError is a schema name that does not exist
type NotFoundError struct {
	Kind        string
	Name        string
	Suggestions []string
}

// NewNotFoundError suggests the candidates closest to name
func NewNotFoundError(kind, name string, candidates []string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name, Suggestions: FindSimilar(name, candidates)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find %s %q", e.Kind, e.Name)
}

// FormatSuccess renders a one-line confirmation
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("OK %s", message)
}
