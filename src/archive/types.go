// Package archive defines the narrow contract to the external archive store.
package archive

import (
	"context"
	"io"
	"time"
)

// Policy carries keep-counts per period. The store owns the exact bucketing;
// callers only scope what a prune may touch via the key glob.
type Policy struct {
	Daily   int
	Weekly  int
	Monthly int
}

// Entry is one immutable archive entry as reported by the store.
type Entry struct {
	Name string
	Time time.Time
}

// Store is the adapter to the archive tool. Implementations forward exit
// status faithfully and never retry; the caller decides fatality.
type Store interface {
	// Create writes one immutable entry under key from the stream.
	Create(ctx context.Context, key string, r io.Reader) error
	// Prune applies the retention policy to entries matching glob. The glob
	// must scope a single domain/device key prefix.
	Prune(ctx context.Context, glob string, policy Policy) error
	// Compact reclaims space freed by earlier prunes.
	Compact(ctx context.Context) error
	// List returns entries matching glob, oldest first.
	List(ctx context.Context, glob string) ([]Entry, error)
}
