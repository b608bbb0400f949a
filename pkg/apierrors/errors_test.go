package apierrors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestReport(t *testing.T) {
	report := Report([]ErrorDetail{
		{Name: "data.adhocracy_core.sheets.name.IName.name", Location: "body", Description: "Required"},
		{Name: "content_type", Location: "body", Description: "Unknown"},
	})

	assert.Equal(t, "error #0\n"+
		"where: data.adhocracy_core.sheets.name.IName.name, body\n"+
		"what:  Required\n"+
		"error #1\n"+
		"where: content_type, body\n"+
		"what:  Unknown\n", report)
}

func TestParseDetails(t *testing.T) {
	details, err := ParseDetails([]interface{}{
		map[string]interface{}{"name": "n1", "location": "l1", "description": "d1"},
		[]interface{}{"n2", "l2", "d2"},
		[]interface{}{"n3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []ErrorDetail{
		{Name: "n1", Location: "l1", Description: "d1"},
		{Name: "n2", Location: "l2", Description: "d2"},
		{Name: "n3"},
	}, details)

	_, err = ParseDetails("nope")
	assert.Error(t, err)

	_, err = ParseDetails([]interface{}{42})
	assert.Error(t, err)
}

func TestLogBackendError(t *testing.T) {
	logger, logs := observedLogger()
	resp := &transport.Response{
		StatusCode: 400,
		Body: map[string]interface{}{
			"status": "error",
			"errors": []interface{}{
				map[string]interface{}{"name": "data.x", "location": "body", "description": "Required"},
			},
		},
	}

	err := LogBackendError(logger, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.False(t, errors.Is(err, ErrBackendBatch))

	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, 400, backendErr.StatusCode)
	assert.Equal(t, "error", backendErr.Status)
	assert.Equal(t, []ErrorDetail{{Name: "data.x", Location: "body", Description: "Required"}}, backendErr.Errors)

	entries := logs.FilterMessage("backend error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["error_count"])
	assert.Contains(t, fields["report"], "where: data.x, body")
}

func TestLogBackendError_NotAnEnvelope(t *testing.T) {
	err := LogBackendError(nil, &transport.Response{StatusCode: 502, Body: "<html>Bad Gateway</html>"})

	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	require.Len(t, backendErr.Errors, 1)
	assert.Contains(t, backendErr.Errors[0].Description, "Bad Gateway")

	err = LogBackendError(nil, nil)
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "transport", backendErr.Errors[0].Location)
}

func TestLogBackendBatchError_LegacyTuples(t *testing.T) {
	logger, logs := observedLogger()
	resp := &transport.Response{
		StatusCode: 400,
		Body: []interface{}{
			map[string]interface{}{"code": json.Number("200"), "body": map[string]interface{}{"content_type": "x"}},
			map[string]interface{}{"code": json.Number("400"), "body": map[string]interface{}{
				"status": "error",
				"errors": []interface{}{[]interface{}{"n", "l", "d"}},
			}},
		},
	}

	err := LogBackendBatchError(logger, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendBatch))
	assert.True(t, errors.Is(err, ErrBackend))

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, []ErrorDetail{{Name: "n", Location: "l", Description: "d"}}, batchErr.Errors)
	assert.Equal(t, 1, batchErr.Index)
	assert.Equal(t, 400, batchErr.StatusCode)
	assert.Contains(t, batchErr.Error(), "item 1")

	entries := logs.FilterMessage("backend batch error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["batch_index"])
}

func TestLogBackendBatchError_NamedErrors(t *testing.T) {
	resp := &transport.Response{
		StatusCode: 400,
		Body: []interface{}{
			map[string]interface{}{"body": map[string]interface{}{
				"status": "error",
				"errors": []interface{}{
					map[string]interface{}{"name": "a", "location": "b", "description": "c"},
				},
			}},
		},
	}

	err := LogBackendBatchError(nil, resp)
	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "a", batchErr.Errors[0].Name)
	assert.Equal(t, 0, batchErr.Index)
}

func TestLogBackendBatchError_Empty(t *testing.T) {
	err := LogBackendBatchError(nil, &transport.Response{StatusCode: 400, Body: []interface{}{}})
	assert.True(t, errors.Is(err, ErrEmptyBatchResponse))
}

func TestLogBackendBatchError_WholeBatchRejected(t *testing.T) {
	resp := &transport.Response{
		StatusCode: 403,
		Body: map[string]interface{}{
			"status": "error",
			"errors": []interface{}{
				map[string]interface{}{"name": "X-User-Token", "location": "header", "description": "Invalid user token"},
			},
		},
	}

	err := LogBackendBatchError(nil, resp)
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "header", backendErr.Errors[0].Location)
	assert.False(t, errors.Is(err, ErrBackendBatch))
}
