package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
)

// Error locations used in error details
const (
	locationBody        = "body"
	locationURL         = "url"
	locationQuerystring = "querystring"
	locationServer      = "server"
)

// requestError is a failed request in the backend's error vocabulary
type requestError struct {
	status  int
	details []apierrors.ErrorDetail
}

func (e *requestError) Error() string {
	parts := make([]string, len(e.details))
	for i, d := range e.details {
		parts[i] = d.String()
	}
	return fmt.Sprintf("status %d: %s", e.status, strings.Join(parts, "; "))
}

func newRequestError(status int, name, location, description string) *requestError {
	return &requestError{
		status: status,
		details: []apierrors.ErrorDetail{
			{Name: name, Location: location, Description: description},
		},
	}
}

func notFound(path string) *requestError {
	return newRequestError(http.StatusNotFound, "path", locationURL, "The resource "+path+" could not be found")
}

func internalError(err error) *requestError {
	return newRequestError(http.StatusInternalServerError, "store", locationServer, err.Error())
}

// errorBody renders the error envelope. With legacy set, each detail is a
// [name, location, description] tuple.
func errorBody(e *requestError, legacy bool) map[string]interface{} {
	errs := make([]interface{}, len(e.details))
	for i, d := range e.details {
		if legacy {
			errs[i] = []interface{}{d.Name, d.Location, d.Description}
		} else {
			errs[i] = map[string]interface{}{
				"name":        d.Name,
				"location":    d.Location,
				"description": d.Description,
			}
		}
	}
	return map[string]interface{}{
		"status": "error",
		"errors": errs,
	}
}

func renderJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, e *requestError) {
	renderJSON(w, e.status, errorBody(e, false))
}
