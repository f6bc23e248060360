package genstore

import (
	"context"
	"time"
)

// GenStore hands out generation tokens per query key.
// A fetch is issued under a freshly bumped generation and its response may only
// be committed while that generation is still current.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump issues a new generation for key and returns it.
	Bump(ctx context.Context, key string) (uint64, error)
	// BumpMatching bumps every known key accepted by match and returns those keys.
	BumpMatching(ctx context.Context, match func(key string) bool) ([]string, error)
	// Cleanup prunes generations not bumped within retention.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
