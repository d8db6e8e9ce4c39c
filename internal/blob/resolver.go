package blob

import (
	"context"
	"strings"
	"time"
)

// MediaResolver turns profile image references into pre-signed URLs.
// References that are already absolute http(s) URLs pass through untouched.
type MediaResolver struct {
	store  Store
	expiry time.Duration
}

// NewMediaResolver returns a resolver signing URLs valid for expiry.
// A non-positive expiry uses the store default.
func NewMediaResolver(store Store, expiry time.Duration) *MediaResolver {
	return &MediaResolver{store: store, expiry: expiry}
}

// ResolveURL returns a fetchable URL for ref.
func (r *MediaResolver) ResolveURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return ref, nil
	}
	return r.store.PresignURL(ctx, ref, SignedURLOptions{Expiry: r.expiry})
}
