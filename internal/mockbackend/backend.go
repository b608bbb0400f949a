// Package mockbackend is an in-process implementation of the adhocracy REST
// API used for tests and local development. It understands items, versions,
// LAST tags, pools and batch requests with preliminary path rewriting.
package mockbackend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/testschema"
	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

const (
	// DefaultBatchPath is where batches are accepted
	DefaultBatchPath = "/batch"
	// DefaultMetaAPIPath is where the schema document is served
	DefaultMetaAPIPath = "/meta_api"

	versionPrefix = "VERSION_"
	timeLayout    = "2006-01-02T15:04:05.000000-07:00"
)

// noForkErrorName is reported when a new version does not follow the head
var noForkErrorName = "data." + resource.SheetVersionable + "." + resource.FieldFollows

// Backend serves the adhocracy wire protocol on top of a Store
type Backend struct {
	store    Store
	meta     *metaapi.Query
	document []byte
	logger   *zap.Logger
	now      func() time.Time

	rootType          string
	tagType           string
	batchPath         string
	legacyErrorTuples bool
	metricsHandler    http.Handler

	// Requests run one at a time so the no-fork check sees a stable head
	mu sync.Mutex
}

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the request and error logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithClock replaces time.Now for metadata timestamps
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithRootType sets the content type of the root pool
func WithRootType(contentType string) Option {
	return func(b *Backend) {
		b.rootType = contentType
	}
}

// WithBatchPath sets the batch endpoint
func WithBatchPath(path string) Option {
	return func(b *Backend) {
		b.batchPath = path
	}
}

// WithLegacyErrorTuples reports batch item errors as
// [name, location, description] tuples
func WithLegacyErrorTuples(enabled bool) Option {
	return func(b *Backend) {
		b.legacyErrorTuples = enabled
	}
}

// WithMetricsHandler exposes h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(b *Backend) {
		b.metricsHandler = h
	}
}

// New creates a backend serving document as its schema. The root pool is
// created in store if it does not exist yet.
func New(ctx context.Context, store Store, document []byte, opts ...Option) (*Backend, error) {
	meta, err := metaapi.Parse(document)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		store:     store,
		meta:      meta,
		document:  document,
		logger:    zap.NewNop(),
		now:       time.Now,
		rootType:  testschema.Pool,
		batchPath: DefaultBatchPath,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if _, err := meta.Resource(b.rootType); err != nil {
		return nil, fmt.Errorf("root type: %w", err)
	}
	b.tagType = findTagType(meta)

	if err := b.ensureRoot(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadDocument reads a meta_api document from path, or returns the built-in
// schema when path is empty
func LoadDocument(path string) ([]byte, error) {
	if path == "" {
		return []byte(testschema.Document), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return data, nil
}

// OpenStore returns a MemoryStore for driver "memory" and an SQLStore for
// the SQL drivers
func OpenStore(ctx context.Context, driver, dsn string) (Store, error) {
	if driver == "" || driver == "memory" {
		return NewMemoryStore(), nil
	}
	if !isSQLDriver(driver) {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	return OpenSQLStore(ctx, strings.ToLower(driver), dsn)
}

// Meta returns the schema the backend enforces
func (b *Backend) Meta() *metaapi.Query {
	return b.meta
}

// findTagType picks the resource type used for LAST tags
func findTagType(meta *metaapi.Query) string {
	for _, name := range meta.ResourceNames() {
		if meta.HasSheet(name, resource.SheetTag) {
			return name
		}
	}
	return testschema.Tag
}

func (b *Backend) ensureRoot(ctx context.Context) error {
	_, err := b.store.Get(ctx, "/")
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to load root: %w", err)
	}
	root := resource.New(b.rootType)
	root.Path = "/"
	b.stampCreated(root)
	return b.store.Apply(ctx, []*resource.Resource{root})
}

func (b *Backend) timestamp() string {
	return b.now().Format(timeLayout)
}

func (b *Backend) stampCreated(r *resource.Resource) {
	if !b.meta.HasSheet(r.ContentType, resource.SheetMetadata) {
		return
	}
	sheet := r.Data[resource.SheetMetadata].Clone()
	if sheet == nil {
		sheet = resource.Sheet{}
	}
	ts := b.timestamp()
	sheet["creation_date"] = ts
	sheet["modification_date"] = ts
	r.Data[resource.SheetMetadata] = sheet
}

func (b *Backend) stampModified(r *resource.Resource) {
	if !b.meta.HasSheet(r.ContentType, resource.SheetMetadata) {
		return
	}
	sheet := r.Data[resource.SheetMetadata].Clone()
	if sheet == nil {
		sheet = resource.Sheet{}
	}
	sheet["modification_date"] = b.timestamp()
	r.Data[resource.SheetMetadata] = sheet
}

// dispatch runs one request against view. created is set for writes.
func (b *Backend) dispatch(ctx context.Context, view *overlay, method, path string, query map[string][]string, body map[string]interface{}) (interface{}, *resource.Resource, *requestError) {
	path = normalizePath(path)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		obj, rerr := b.get(ctx, view, path, query)
		return obj, nil, rerr
	case http.MethodPost:
		created, rerr := b.post(ctx, view, path, body)
		if rerr != nil {
			return nil, nil, rerr
		}
		return created.ToObject(), created, nil
	case http.MethodPut:
		updated, rerr := b.put(ctx, view, path, body)
		if rerr != nil {
			return nil, nil, rerr
		}
		return updated.ToObject(), updated, nil
	case http.MethodOptions:
		obj, _, rerr := b.options(ctx, view, path)
		return obj, nil, rerr
	default:
		return nil, nil, newRequestError(http.StatusMethodNotAllowed, "method", locationURL, "Method "+method+" is not supported")
	}
}

func (b *Backend) load(ctx context.Context, view *overlay, path string) (*resource.Resource, *requestError) {
	r, err := view.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(path)
	}
	if err != nil {
		return nil, internalError(err)
	}
	return r, nil
}

func decodeBody(body map[string]interface{}) (*resource.Resource, *requestError) {
	if body == nil {
		return nil, newRequestError(http.StatusBadRequest, "body", locationBody, "Required")
	}
	r, err := resource.FromObject(body)
	if err != nil {
		return nil, newRequestError(http.StatusBadRequest, "body", locationBody, err.Error())
	}
	return r, nil
}

type writeMode int

const (
	modeCreate writeMode = iota
	modeEdit
)

// validateData checks the sheets and fields of a write against the schema
func (b *Backend) validateData(contentType string, data map[string]resource.Sheet, mode writeMode) []apierrors.ErrorDetail {
	var details []apierrors.ErrorDetail
	add := func(name, description string) {
		details = append(details, apierrors.ErrorDetail{Name: name, Location: locationBody, Description: description})
	}

	sheetNames := make([]string, 0, len(data))
	for name := range data {
		sheetNames = append(sheetNames, name)
	}
	sort.Strings(sheetNames)

	for _, sheetName := range sheetNames {
		if !b.meta.HasSheet(contentType, sheetName) {
			add("data."+sheetName, "Sheet is not part of "+contentType)
			continue
		}
		fieldNames := make([]string, 0, len(data[sheetName]))
		for name := range data[sheetName] {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		for _, fieldName := range fieldNames {
			name := "data." + sheetName + "." + fieldName
			field, err := b.meta.Field(sheetName, fieldName)
			if err != nil {
				add(name, "Unrecognized field")
				continue
			}
			if mode == modeCreate && !field.Writable() {
				add(name, "Field is read-only")
			}
			if mode == modeEdit && !field.Editable {
				add(name, "Field is not editable")
			}
		}
	}

	if mode == modeCreate {
		desc, err := b.meta.Resource(contentType)
		if err != nil {
			return details
		}
		for _, sheetName := range desc.Sheets {
			sheet, err := b.meta.Sheet(sheetName)
			if err != nil {
				continue
			}
			for _, fieldName := range sheet.Fields.Names() {
				if !sheet.Fields[fieldName].CreateMandatory {
					continue
				}
				if isEmpty(data[sheetName][fieldName]) {
					add("data."+sheetName+"."+fieldName, "Required")
				}
			}
		}
	}
	return details
}

func bodyErrors(details []apierrors.ErrorDetail) *requestError {
	return &requestError{status: http.StatusBadRequest, details: details}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// post creates a resource inside the container at path
func (b *Backend) post(ctx context.Context, view *overlay, container string, body map[string]interface{}) (*resource.Resource, *requestError) {
	parent, rerr := b.load(ctx, view, container)
	if rerr != nil {
		return nil, rerr
	}
	r, rerr := decodeBody(body)
	if rerr != nil {
		return nil, rerr
	}
	if r.ContentType == "" {
		return nil, newRequestError(http.StatusBadRequest, "content_type", locationBody, "Required")
	}
	desc, err := b.meta.Resource(r.ContentType)
	if err != nil {
		return nil, newRequestError(http.StatusBadRequest, "content_type", locationBody, "Unknown iresource "+r.ContentType)
	}
	parentDesc, err := b.meta.Resource(parent.ContentType)
	if err == nil && !contains(parentDesc.ElementTypes, r.ContentType) {
		return nil, newRequestError(http.StatusBadRequest, "content_type", locationBody,
			fmt.Sprintf("%s is not addable to %s", r.ContentType, container))
	}
	if details := b.validateData(r.ContentType, r.Data, modeCreate); len(details) > 0 {
		return nil, bodyErrors(details)
	}

	created := resource.New(r.ContentType)
	for name, sheet := range r.Data {
		created.Data[name] = sheet.Clone()
	}

	if b.meta.IsVersionable(r.ContentType) && b.meta.IsItem(parent.ContentType) {
		path, rerr := b.newVersion(ctx, view, container, created)
		if rerr != nil {
			return nil, rerr
		}
		created.Path = path
	} else {
		path, rerr := b.newChildPath(ctx, view, container, created)
		if rerr != nil {
			return nil, rerr
		}
		created.Path = path
	}

	b.stampCreated(created)
	if b.meta.IsItem(r.ContentType) {
		first, tag := b.itemScaffold(created, desc.ItemType)
		created.FirstVersionPath = first.Path
		view.Put(created)
		view.Put(first)
		view.Put(tag)
	} else {
		view.Put(created)
	}

	b.logger.Debug("resource created",
		zap.String("path", created.Path),
		zap.String("content_type", created.ContentType),
	)
	return created, nil
}

// newChildPath names a new non-version resource
func (b *Backend) newChildPath(ctx context.Context, view *overlay, container string, r *resource.Resource) (string, *requestError) {
	if name, ok := r.Data[resource.SheetName]["name"].(string); ok && name != "" {
		if strings.ContainsAny(name, "/@") {
			return "", newRequestError(http.StatusBadRequest, "data."+resource.SheetName+".name", locationBody, "Invalid name "+name)
		}
		path := resource.Join(container, name)
		exists, err := view.Exists(ctx, path)
		if err != nil {
			return "", internalError(err)
		}
		if exists {
			return "", newRequestError(http.StatusBadRequest, "data."+resource.SheetName+".name", locationBody, "The name is already used: "+name)
		}
		return path, nil
	}

	children, err := view.Children(ctx, container)
	if err != nil {
		return "", internalError(err)
	}
	prefix := shortName(r.ContentType) + "_"
	for n := len(children); ; n++ {
		path := resource.Join(container, fmt.Sprintf("%s%07d", prefix, n))
		exists, err := view.Exists(ctx, path)
		if err != nil {
			return "", internalError(err)
		}
		if !exists {
			return path, nil
		}
	}
}

// newVersion validates that r follows the head of item and moves LAST to the
// new version
func (b *Backend) newVersion(ctx context.Context, view *overlay, item string, r *resource.Resource) (string, *requestError) {
	tag, rerr := b.load(ctx, view, resource.LastPath(item))
	if rerr != nil {
		return "", rerr
	}
	heads := tag.Data[resource.SheetTag].Strings(resource.FieldElements)
	follows := r.Follows()
	if !reflect.DeepEqual(normalizeAll(follows), normalizeAll(heads)) {
		return "", newRequestError(http.StatusBadRequest, noForkErrorName, locationBody,
			"No fork allowed - valid follows resources are: "+strings.Join(heads, ", "))
	}

	children, err := view.Children(ctx, item)
	if err != nil {
		return "", internalError(err)
	}
	n := 0
	for _, c := range children {
		if strings.HasPrefix(resource.Base(c), versionPrefix) {
			n++
		}
	}
	path := resource.Join(item, fmt.Sprintf("%s%07d", versionPrefix, n))

	for _, old := range follows {
		prev, rerr := b.load(ctx, view, normalizePath(old))
		if rerr != nil {
			return "", rerr
		}
		sheet := prev.Data[resource.SheetVersionable].Clone()
		if sheet == nil {
			sheet = resource.Sheet{}
		}
		followedBy := sheet.Strings("followed_by")
		sheet["followed_by"] = toInterfaces(append(followedBy, path))
		prev.Data[resource.SheetVersionable] = sheet
		view.Put(prev)
	}

	tag.Data[resource.SheetTag] = resource.Sheet{resource.FieldElements: []interface{}{path}}
	view.Put(tag)
	return path, nil
}

// itemScaffold builds the first version and the LAST tag of a new item
func (b *Backend) itemScaffold(item *resource.Resource, versionType string) (*resource.Resource, *resource.Resource) {
	first := resource.New(versionType)
	first.Path = resource.Join(item.Path, versionPrefix+"0000000")
	first.Data[resource.SheetVersionable] = resource.Sheet{resource.FieldFollows: []interface{}{}}
	b.stampCreated(first)

	tag := resource.New(b.tagType)
	tag.Path = resource.LastPath(item.Path)
	tag.Data[resource.SheetTag] = resource.Sheet{resource.FieldElements: []interface{}{first.Path}}
	return first, tag
}

// put merges the editable fields of body into the resource at path
func (b *Backend) put(ctx context.Context, view *overlay, path string, body map[string]interface{}) (*resource.Resource, *requestError) {
	existing, rerr := b.load(ctx, view, path)
	if rerr != nil {
		return nil, rerr
	}
	r, rerr := decodeBody(body)
	if rerr != nil {
		return nil, rerr
	}
	if r.ContentType != "" && r.ContentType != existing.ContentType {
		return nil, newRequestError(http.StatusBadRequest, "content_type", locationBody,
			"Content type cannot change from "+existing.ContentType)
	}
	if details := b.validateData(existing.ContentType, r.Data, modeEdit); len(details) > 0 {
		return nil, bodyErrors(details)
	}

	for sheetName, sheet := range r.Data {
		merged := existing.Data[sheetName].Clone()
		if merged == nil {
			merged = resource.Sheet{}
		}
		for field, value := range sheet {
			merged[field] = value
		}
		existing.Data[sheetName] = merged
	}
	b.stampModified(existing)
	view.Put(existing)
	return existing, nil
}

// options describes the methods allowed on path
func (b *Backend) options(ctx context.Context, view *overlay, path string) (map[string]interface{}, []string, *requestError) {
	r, rerr := b.load(ctx, view, path)
	if rerr != nil {
		return nil, nil, rerr
	}
	body := map[string]interface{}{http.MethodGet: map[string]interface{}{}}
	methods := []string{http.MethodGet}

	desc, err := b.meta.Resource(r.ContentType)
	if err == nil {
		if b.hasEditableField(desc) {
			body[http.MethodPut] = map[string]interface{}{}
			methods = append(methods, http.MethodPut)
		}
		if len(desc.ElementTypes) > 0 {
			body[http.MethodPost] = map[string]interface{}{
				"request_body": toInterfaces(desc.ElementTypes),
			}
			methods = append(methods, http.MethodPost)
		}
	}
	methods = append(methods, http.MethodOptions)
	return body, methods, nil
}

func (b *Backend) hasEditableField(desc metaapi.ResourceDescriptor) bool {
	for _, sheetName := range desc.Sheets {
		sheet, err := b.meta.Sheet(sheetName)
		if err != nil {
			continue
		}
		for _, f := range sheet.Fields {
			if f.Editable {
				return true
			}
		}
	}
	return false
}

// shortName turns "adhocracy_core.resources.proposal.IProposal" into
// "proposal"
func shortName(contentType string) string {
	name := contentType
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimPrefix(name, "I")
	if name == "" {
		name = "resource"
	}
	return strings.ToLower(name)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func normalizeAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = normalizePath(p)
	}
	return out
}

func toInterfaces(list []string) []interface{} {
	out := make([]interface{}, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
