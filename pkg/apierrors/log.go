package apierrors

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

// LogBackendError logs the error payload carried by resp and returns it as a
// *BackendError. The returned error is never nil.
func LogBackendError(logger *zap.Logger, resp *transport.Response) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := backendError(resp)

	logger.Error("backend error",
		zap.Int("status_code", err.StatusCode),
		zap.String("status", err.Status),
		zap.Int("error_count", len(err.Errors)),
		zap.String("report", Report(err.Errors)),
	)
	return err
}

// LogBackendBatchError logs the error reported by a failed batch and returns
// it as a *BatchError. The batch processor stops at the first failure, so
// the error sits on the last item of the reply.
func LogBackendBatchError(logger *zap.Logger, resp *transport.Response) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var body interface{}
	statusCode := 0
	if resp != nil {
		body = resp.Body
		statusCode = resp.StatusCode
	}

	items, ok := body.([]interface{})
	if !ok {
		// The whole batch was rejected before any item ran
		return LogBackendError(logger, resp)
	}
	if len(items) == 0 {
		logger.Error("backend batch error without items", zap.Int("status_code", statusCode))
		return fmt.Errorf("%w: status %d", ErrEmptyBatchResponse, statusCode)
	}

	index := len(items) - 1
	last := items[index]
	itemBody := last
	if m, ok := last.(map[string]interface{}); ok {
		if b, ok := m["body"]; ok {
			itemBody = b
		}
		if code, ok := intField(m["code"]); ok {
			statusCode = code
		}
	}

	inner := backendError(&transport.Response{StatusCode: statusCode, Body: itemBody})
	err := &BatchError{BackendError: *inner, Index: index}

	logger.Error("backend batch error",
		zap.Int("status_code", err.StatusCode),
		zap.Int("batch_index", index),
		zap.Int("batch_length", len(items)),
		zap.Int("error_count", len(err.Errors)),
		zap.String("report", Report(err.Errors)),
	)
	return err
}

// backendError extracts the error envelope from resp. Replies that do not
// follow the envelope still produce a single synthesized detail.
func backendError(resp *transport.Response) *BackendError {
	err := &BackendError{Status: "error"}
	if resp == nil {
		err.Errors = []ErrorDetail{{Name: "response", Location: "transport", Description: "no response"}}
		return err
	}
	err.StatusCode = resp.StatusCode

	envelope, ok := resp.Body.(map[string]interface{})
	if !ok {
		err.Errors = []ErrorDetail{{Name: "response", Location: "body", Description: fmt.Sprintf("%v", resp.Body)}}
		return err
	}
	if status, ok := envelope["status"].(string); ok {
		err.Status = status
	}

	details, parseErr := ParseDetails(envelope["errors"])
	if parseErr != nil {
		err.Errors = []ErrorDetail{{Name: "response", Location: "body", Description: parseErr.Error()}}
		return err
	}
	err.Errors = details
	return err
}

func intField(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
