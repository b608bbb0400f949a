// Package preliminary mints placeholder identifiers for resources that do not
// exist on the backend yet.
//
// A preliminary path starts with Sentinel. The preliminary path of an item's
// first version carries the sentinel twice, so that "the item" and "its first
// version" stay distinguishable while both are unresolved.
package preliminary

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// Sentinel marks a path as preliminary
const Sentinel = "@"

// DefaultPrefix is prepended to the counter value of generated ids
const DefaultPrefix = "pn"

// Generator produces identifiers that never repeat within its lifetime
type Generator interface {
	Next() string
}

// Sequence generates bare ids ("pn1", "pn2", ...) from a counter.
// It is safe for concurrent use.
type Sequence struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequence creates a sequence using DefaultPrefix
func NewSequence() *Sequence {
	return NewSequenceWithPrefix(DefaultPrefix)
}

// NewSequenceWithPrefix creates a sequence using a custom prefix
func NewSequenceWithPrefix(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next id
func (s *Sequence) Next() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Names hands out preliminary paths for UI code building graphs of
// to-be-created resources.
type Names struct {
	seq *Sequence
}

// NewNames creates a generator of preliminary paths
func NewNames() *Names {
	return &Names{seq: NewSequence()}
}

// Next returns a fresh preliminary path
func (n *Names) Next() string {
	return Path(n.seq.Next())
}

// Path turns a bare id into a preliminary item path
func Path(id string) string {
	return Sentinel + id
}

// FirstVersionPath turns a bare id into the preliminary path of the item's
// first version
func FirstVersionPath(id string) string {
	return Sentinel + Sentinel + id
}

// IsPreliminary reports whether path is a placeholder rather than a real
// backend address
func IsPreliminary(path string) bool {
	return strings.HasPrefix(path, Sentinel)
}

// IsFirstVersion reports whether path is a preliminary first-version path
func IsFirstVersion(path string) bool {
	return strings.HasPrefix(path, Sentinel+Sentinel)
}
