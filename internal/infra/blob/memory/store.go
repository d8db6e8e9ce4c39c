// Package memory implements an in-memory media Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"dynastycore/internal/blob/core"
)

// DefaultBaseURL prefixes URLs issued by a store built without one.
const DefaultBaseURL = "memory://media"

// Store implements core.Store over a process-local object index. URLs it
// issues carry an expiry timestamp but no signature.
type Store struct {
	mu      sync.RWMutex
	objs    map[string]core.Info
	baseURL string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for LastModified and URL expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store issuing URLs under baseURL.
func New(baseURL string, opts ...Option) *Store {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &Store{
		objs:    make(map[string]core.Info),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Add records an object under key, replacing any previous entry.
func (s *Store) Add(key, contentType string, size int64) (core.Info, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	info := core.Info{Key: key, Size: size, ContentType: contentType, LastModified: s.now()}
	s.mu.Lock()
	s.objs[key] = info
	s.mu.Unlock()
	return info, nil
}

// Remove deletes key, reporting whether it existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok
}

// Keys lists stored keys in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objs))
	for k := range s.objs {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Head returns object metadata.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.RLock()
	info, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return info, nil
}

// PresignURL returns baseURL/key with an expires query parameter. Unknown keys
// are reported as not found so callers can fall back.
func (s *Store) PresignURL(ctx context.Context, key string, opts core.SignedURLOptions) (string, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprintf("%d", s.now().Add(opts.ExpiryOrDefault()).Unix()))
	if opts.ContentDisposition != "" {
		q.Set("response-content-disposition", opts.ContentDisposition)
	}
	return s.baseURL + "/" + escapePath(info.Key) + "?" + q.Encode(), nil
}

func escapePath(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
