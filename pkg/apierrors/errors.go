// Package apierrors turns the backend's structured error payloads into typed
// Go errors and logs them.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackend matches every error reported by the backend
	ErrBackend = errors.New("backend error")
	// ErrBackendBatch matches errors reported for a batch request
	ErrBackendBatch = errors.New("backend batch error")
	// ErrEmptyBatchResponse is returned when a failed batch reply has no items
	ErrEmptyBatchResponse = errors.New("empty batch response")
)

// ErrorDetail is one entry of the backend's errors list
type ErrorDetail struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

func (d ErrorDetail) String() string {
	return fmt.Sprintf("%s (%s): %s", d.Name, d.Location, d.Description)
}

// BackendError is a {status: "error", errors: [...]} reply to a single request
type BackendError struct {
	StatusCode int
	Status     string
	Errors     []ErrorDetail
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, joinDetails(e.Errors))
}

// Is makes errors.Is(err, ErrBackend) match
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// BatchError is the error reported on the last processed item of a batch
type BatchError struct {
	BackendError
	// Index is the position of the failing item in the batch reply
	Index int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("backend batch error at item %d (status %d): %s", e.Index, e.StatusCode, joinDetails(e.Errors))
}

// Is matches both ErrBackendBatch and ErrBackend
func (e *BatchError) Is(target error) bool {
	return target == ErrBackendBatch || target == ErrBackend
}

func joinDetails(details []ErrorDetail) string {
	if len(details) == 0 {
		return "no details"
	}
	parts := make([]string, len(details))
	for i, d := range details {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Report renders errors as a human-readable multi-line block
func Report(details []ErrorDetail) string {
	var b strings.Builder
	for i, d := range details {
		fmt.Fprintf(&b, "error #%d\n", i)
		fmt.Fprintf(&b, "where: %s, %s\n", d.Name, d.Location)
		fmt.Fprintf(&b, "what:  %s\n", d.Description)
	}
	return b.String()
}

// ParseDetails decodes an errors list. Each entry is either an object with
// name/location/description or a legacy [name, location, description] tuple.
func ParseDetails(v interface{}) ([]ErrorDetail, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("errors: expected list, got %T", v)
	}

	details := make([]ErrorDetail, 0, len(list))
	for i, entry := range list {
		switch e := entry.(type) {
		case map[string]interface{}:
			details = append(details, ErrorDetail{
				Name:        stringField(e["name"]),
				Location:    stringField(e["location"]),
				Description: stringField(e["description"]),
			})
		case []interface{}:
			var d ErrorDetail
			if len(e) > 0 {
				d.Name = stringField(e[0])
			}
			if len(e) > 1 {
				d.Location = stringField(e[1])
			}
			if len(e) > 2 {
				d.Description = stringField(e[2])
			}
			details = append(details, d)
		default:
			return nil, fmt.Errorf("errors[%d]: unexpected %T", i, entry)
		}
	}
	return details, nil
}

func stringField(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}
