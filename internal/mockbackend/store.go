package mockbackend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

// ErrNotFound is returned by stores for unknown paths
var ErrNotFound = errors.New("resource not found")

// Store persists resources by path
type Store interface {
	// Get returns the resource at path or ErrNotFound
	Get(ctx context.Context, path string) (*resource.Resource, error)

	// Children returns the sorted paths of the direct children of parent
	Children(ctx context.Context, parent string) ([]string, error)

	// Apply stores all resources or none of them
	Apply(ctx context.Context, resources []*resource.Resource) error

	// Close releases the store
	Close() error
}

// parentOf returns the path children of parent are listed under. The root
// "/" has no parent.
func parentOf(path string) string {
	if path == "/" || path == "" {
		return ""
	}
	return resource.ParentPath(path)
}

// normalizePath strips the trailing slash from every path but the root
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// MemoryStore keeps resources in a map
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*resource.Resource
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*resource.Resource),
	}
}

// Get returns a copy of the stored resource
func (s *MemoryStore) Get(ctx context.Context, path string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[path]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Children returns the sorted direct children of parent
func (s *MemoryStore) Children(ctx context.Context, parent string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var children []string
	for path := range s.resources {
		if parentOf(path) == parent {
			children = append(children, path)
		}
	}
	sort.Strings(children)
	return children, nil
}

// Apply stores copies of resources
func (s *MemoryStore) Apply(ctx context.Context, resources []*resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resources {
		s.resources[r.Path] = r.Clone()
	}
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored resources
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources)
}

// overlay stages writes on top of a store so a request or a batch is applied
// all at once or not at all
type overlay struct {
	store   Store
	staged  map[string]*resource.Resource
	ordered []string
}

func newOverlay(store Store) *overlay {
	return &overlay{
		store:  store,
		staged: make(map[string]*resource.Resource),
	}
}

func (o *overlay) Get(ctx context.Context, path string) (*resource.Resource, error) {
	if r, ok := o.staged[path]; ok {
		return r.Clone(), nil
	}
	return o.store.Get(ctx, path)
}

func (o *overlay) Exists(ctx context.Context, path string) (bool, error) {
	_, err := o.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (o *overlay) Children(ctx context.Context, parent string) ([]string, error) {
	children, err := o.store.Children(ctx, parent)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(children))
	for _, c := range children {
		seen[c] = true
	}
	for _, path := range o.ordered {
		if !seen[path] && parentOf(path) == parent {
			children = append(children, path)
			seen[path] = true
		}
	}
	sort.Strings(children)
	return children, nil
}

func (o *overlay) Put(r *resource.Resource) {
	if _, ok := o.staged[r.Path]; !ok {
		o.ordered = append(o.ordered, r.Path)
	}
	o.staged[r.Path] = r.Clone()
}

// Flush writes the staged resources in staging order
func (o *overlay) Flush(ctx context.Context) error {
	if len(o.ordered) == 0 {
		return nil
	}
	resources := make([]*resource.Resource, len(o.ordered))
	for i, path := range o.ordered {
		resources[i] = o.staged[path]
	}
	if err := o.store.Apply(ctx, resources); err != nil {
		return err
	}
	o.staged = make(map[string]*resource.Resource)
	o.ordered = nil
	return nil
}
