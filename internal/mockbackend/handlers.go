package mockbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/pkg/preliminary"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

var queryDecoder = schema.NewDecoder()

func init() {
	queryDecoder.IgnoreUnknownKeys(true)
}

// listQuery is the pool listing filter accepted on GET
type listQuery struct {
	ContentType string `schema:"content_type"`
	Elements    string `schema:"elements"`
	Count       bool   `schema:"count"`
	Limit       int    `schema:"limit"`
	Offset      int    `schema:"offset"`
	Reverse     bool   `schema:"reverse"`
}

// Handler returns the HTTP API
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, logging(b.logger), recovery(b.logger))

	if b.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", b.metricsHandler)
	}
	r.Get(DefaultMetaAPIPath, b.handleMetaAPI)
	r.Post(b.batchPath, b.handleBatch)
	r.HandleFunc("/*", b.handleResource)
	return r
}

func (b *Backend) handleMetaAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(b.document)
}

func readBody(r *http.Request) (interface{}, *requestError) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, newRequestError(http.StatusBadRequest, "body", locationBody, err.Error())
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, newRequestError(http.StatusBadRequest, "body", locationBody, "Invalid JSON: "+err.Error())
	}
	return v, nil
}

func (b *Backend) handleResource(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		v, rerr := readBody(r)
		if rerr != nil {
			renderError(w, rerr)
			return
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			renderError(w, newRequestError(http.StatusBadRequest, "body", locationBody, "Expected an object"))
			return
		}
		body = obj
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := r.Context()
	view := newOverlay(b.store)

	if r.Method == http.MethodOptions {
		obj, methods, rerr := b.options(ctx, view, normalizePath(r.URL.Path))
		if rerr != nil {
			renderError(w, rerr)
			return
		}
		w.Header().Set("Allow", strings.Join(methods, ", "))
		renderJSON(w, http.StatusOK, obj)
		return
	}

	result, _, rerr := b.dispatch(ctx, view, r.Method, r.URL.Path, r.URL.Query(), body)
	if rerr != nil {
		b.logger.Debug("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(rerr),
		)
		renderError(w, rerr)
		return
	}
	if err := view.Flush(ctx); err != nil {
		renderError(w, internalError(err))
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// batchRequest is one entry of a batch body
type batchRequest struct {
	Method                 string                 `json:"method"`
	Path                   string                 `json:"path"`
	Body                   map[string]interface{} `json:"body"`
	ResultPath             string                 `json:"result_path"`
	ResultFirstVersionPath string                 `json:"result_first_version_path"`
}

// handleBatch runs the requests in order against one staging overlay.
// Processing stops at the first failure, which is reported as the last
// entry of the reply, and nothing is stored.
func (b *Backend) handleBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		renderError(w, newRequestError(http.StatusBadRequest, "body", locationBody, err.Error()))
		return
	}
	var requests []batchRequest
	if err := json.Unmarshal(raw, &requests); err != nil {
		renderError(w, newRequestError(http.StatusBadRequest, "body", locationBody, "Expected a list of requests: "+err.Error()))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := r.Context()
	status, results := b.runBatch(ctx, requests)
	renderJSON(w, status, results)
}

func (b *Backend) runBatch(ctx context.Context, requests []batchRequest) (int, []interface{}) {
	view := newOverlay(b.store)
	refs := make(map[string]string)
	results := make([]interface{}, 0, len(requests))

	for i, req := range requests {
		path := rewritePath(req.Path, refs)
		var body map[string]interface{}
		if req.Body != nil {
			body, _ = rewriteValue(req.Body, refs).(map[string]interface{})
		}

		var (
			result  interface{}
			created *resource.Resource
			rerr    *requestError
		)
		if preliminary.IsPreliminary(path) {
			rerr = unresolvedReference(path)
		} else {
			result, created, rerr = b.dispatch(ctx, view, req.Method, path, nil, body)
		}
		if rerr != nil {
			b.logger.Info("batch aborted",
				zap.Int("index", i),
				zap.Int("size", len(requests)),
				zap.String("method", req.Method),
				zap.String("path", path),
				zap.Error(rerr),
			)
			results = append(results, map[string]interface{}{
				"code": rerr.status,
				"body": errorBody(rerr, b.legacyErrorTuples),
			})
			return rerr.status, results
		}

		results = append(results, map[string]interface{}{
			"code": http.StatusOK,
			"body": result,
		})
		if created != nil && req.ResultPath != "" {
			refs[preliminary.Path(req.ResultPath)] = created.Path
		}
		if created != nil && req.ResultFirstVersionPath != "" && created.FirstVersionPath != "" {
			refs[preliminary.Path(req.ResultFirstVersionPath)] = created.FirstVersionPath
		}
	}

	if err := view.Flush(ctx); err != nil {
		rerr := internalError(err)
		return rerr.status, []interface{}{map[string]interface{}{
			"code": rerr.status,
			"body": errorBody(rerr, b.legacyErrorTuples),
		}}
	}
	return http.StatusOK, results
}

// rewritePath replaces a preliminary reference, alone or as the first
// segment of a longer path, with the real path it was resolved to
func rewritePath(s string, refs map[string]string) string {
	if !preliminary.IsPreliminary(s) {
		return s
	}
	if real, ok := refs[s]; ok {
		return real
	}
	if idx := strings.Index(s, "/"); idx > 0 {
		if real, ok := refs[s[:idx]]; ok {
			return strings.TrimSuffix(real, "/") + s[idx:]
		}
	}
	return s
}

// unresolvedReference rejects a preliminary path no earlier request created
func unresolvedReference(path string) *requestError {
	kind := "path"
	if preliminary.IsFirstVersion(path) {
		kind = "first version path"
	}
	return newRequestError(http.StatusBadRequest, "path", locationURL,
		fmt.Sprintf("Preliminary %s %s does not refer to a resource created earlier in this batch", kind, path))
}

// rewriteValue applies rewritePath to every string in a decoded JSON value
func rewriteValue(v interface{}, refs map[string]string) interface{} {
	switch t := v.(type) {
	case string:
		return rewritePath(t, refs)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = rewriteValue(e, refs)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = rewriteValue(e, refs)
		}
		return out
	default:
		return v
	}
}

// get renders the resource at path. Pools list their children in the
// IPool sheet according to the query.
func (b *Backend) get(ctx context.Context, view *overlay, path string, query map[string][]string) (map[string]interface{}, *requestError) {
	r, rerr := b.load(ctx, view, path)
	if rerr != nil {
		return nil, rerr
	}
	obj := r.ToObject()
	if !b.meta.HasSheet(r.ContentType, resource.SheetPool) {
		return obj, nil
	}

	var q listQuery
	if len(query) > 0 {
		if err := queryDecoder.Decode(&q, query); err != nil {
			return nil, newRequestError(http.StatusBadRequest, "query", locationQuerystring, err.Error())
		}
	}
	if q.Elements == "" {
		q.Elements = "paths"
	}
	switch q.Elements {
	case "paths", "content", "omit":
	default:
		return nil, newRequestError(http.StatusBadRequest, "elements", locationQuerystring, "Must be one of paths, content, omit")
	}

	children, err := view.Children(ctx, path)
	if err != nil {
		return nil, internalError(err)
	}

	var matched []*resource.Resource
	for _, childPath := range children {
		child, err := view.Get(ctx, childPath)
		if err != nil {
			return nil, internalError(err)
		}
		if q.ContentType != "" && child.ContentType != q.ContentType {
			continue
		}
		matched = append(matched, child)
	}
	total := len(matched)

	if q.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	poolSheet := map[string]interface{}{}
	switch q.Elements {
	case "paths":
		elements := make([]interface{}, len(matched))
		for i, child := range matched {
			elements[i] = child.Path
		}
		poolSheet[resource.FieldElements] = elements
	case "content":
		elements := make([]interface{}, len(matched))
		for i, child := range matched {
			elements[i] = child.ToObject()
		}
		poolSheet[resource.FieldElements] = elements
	}
	if q.Count {
		poolSheet["count"] = total
	}

	obj["data"].(map[string]interface{})[resource.SheetPool] = poolSheet
	return obj, nil
}
