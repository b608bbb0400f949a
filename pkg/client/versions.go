package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

var (
	// ErrNoHeadVersion is returned when an item's LAST tag lists no version
	ErrNoHeadVersion = errors.New("item has no head version")
	// ErrForkedVersion is returned by the strict head lookup when LAST lists
	// more than one version
	ErrForkedVersion = errors.New("item has more than one head version")
	// ErrNoForkRetriesExhausted is returned when PostNewVersionNoFork kept
	// losing the race against other writers
	ErrNoForkRetriesExhausted = errors.New("no-fork retries exhausted")
)

const (
	// DefaultNoForkAttempts is the default number of posts PostNewVersionNoFork tries
	DefaultNoForkAttempts = 5
	// DefaultNoForkBackoff is the default base backoff between attempts
	DefaultNoForkBackoff = 250 * time.Millisecond
)

// noForkErrorName is the error name the backend uses when a new version does
// not follow the current head
var noForkErrorName = "data." + resource.SheetVersionable + "." + resource.FieldFollows

// RetryConfig configures PostNewVersionNoFork
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultNoForkAttempts,
		BaseBackoff: DefaultNoForkBackoff,
	}
}

// ForkedVersionError lists the heads found on a forked item
type ForkedVersionError struct {
	Path  string
	Heads []string
}

func (e *ForkedVersionError) Error() string {
	return fmt.Sprintf("%s has %d head versions: %s", e.Path, len(e.Heads), strings.Join(e.Heads, ", "))
}

func (e *ForkedVersionError) Unwrap() error {
	return ErrForkedVersion
}

// NewestVersionPath returns the head version of the item at path.
// When LAST lists several heads the first one is returned without notice;
// use NewestVersionPathNoFork to detect that case.
func (c *Client) NewestVersionPath(ctx context.Context, path string) (string, error) {
	heads, err := c.heads(ctx, path)
	if err != nil {
		return "", err
	}
	return heads[0], nil
}

// NewestVersionPathNoFork is NewestVersionPath failing with a
// *ForkedVersionError when the item has more than one head
func (c *Client) NewestVersionPathNoFork(ctx context.Context, path string) (string, error) {
	heads, err := c.heads(ctx, path)
	if err != nil {
		return "", err
	}
	if len(heads) > 1 {
		return "", &ForkedVersionError{Path: path, Heads: heads}
	}
	return heads[0], nil
}

func (c *Client) heads(ctx context.Context, path string) ([]string, error) {
	tag, err := c.Get(ctx, resource.LastPath(path))
	if err != nil {
		return nil, err
	}
	sheet, _ := tag.Sheet(resource.SheetTag)
	heads := sheet.Strings(resource.FieldElements)
	if len(heads) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHeadVersion, path)
	}
	return heads, nil
}

// PostNewVersion posts r as the successor of oldVersionPath. The
// IVersionable sheet of the posted copy follows exactly oldVersionPath, and
// rootVersions, when given, become its root_versions. r is not modified.
func (c *Client) PostNewVersion(ctx context.Context, oldVersionPath string, r *resource.Resource, rootVersions ...string) (*resource.Resource, error) {
	if r == nil {
		return nil, errors.New("cannot post nil version")
	}
	dag := resource.ParentPath(oldVersionPath)

	next := r.WithSheet(resource.SheetVersionable, resource.Sheet{
		resource.FieldFollows: []interface{}{oldVersionPath},
	})
	if len(rootVersions) > 0 {
		next.RootVersions = append([]string(nil), rootVersions...)
	}
	return c.Post(ctx, dag, next)
}

// NewVersionResult is the outcome of PostNewVersionNoFork
type NewVersionResult struct {
	Resource *resource.Resource
	// Follows is the version the new version was finally posted after
	Follows string
	// ParentChanged is true when another writer moved the head in between
	ParentChanged bool
	Attempts      int
}

// PostNewVersionNoFork posts r as the successor of oldVersionPath. If the
// backend refuses because oldVersionPath is no longer the head, the current
// head is fetched and the post retried after it, with exponential backoff.
func (c *Client) PostNewVersionNoFork(ctx context.Context, oldVersionPath string, r *resource.Resource, rootVersions ...string) (*NewVersionResult, error) {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	item := resource.ParentPath(oldVersionPath)
	current := oldVersionPath

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("new version cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		created, err := c.PostNewVersion(ctx, current, r, rootVersions...)
		if err == nil {
			return &NewVersionResult{
				Resource:      created,
				Follows:       current,
				ParentChanged: current != oldVersionPath,
				Attempts:      attempt + 1,
			}, nil
		}
		if !IsNoForkError(err) {
			return nil, err
		}
		lastErr = err

		backoff := c.retry.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("new version cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}

		head, err := c.NewestVersionPath(ctx, item)
		if err != nil {
			return nil, err
		}
		c.logger.Info("head moved, retrying new version",
			zap.String("item", item),
			zap.String("previous", current),
			zap.String("head", head),
			zap.Int("attempt", attempt+1),
		)
		current = head
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrNoForkRetriesExhausted, item, attempts, lastErr)
}

// IsNoForkError reports whether err is the backend refusing a version that
// does not follow the current head
func IsNoForkError(err error) bool {
	var backendErr *apierrors.BackendError
	if !errors.As(err, &backendErr) {
		return false
	}
	if len(backendErr.Errors) != 1 {
		return false
	}
	detail := backendErr.Errors[0]
	return detail.Name == noForkErrorName && strings.HasPrefix(detail.Description, "No fork allowed")
}
