// Component for caching small JSON-encoded values with a fixed TTL.
//
// Includes an interface and implementations using redis and in-process
// memory. Used by the stats aggregator for refresh-on-read summary caching.
package cachestore

import (
	"context"
)

type CacheStore interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, scope, key string) (string, bool, error)
	Set(ctx context.Context, scope, key string, val string) error
	Purge(ctx context.Context, scope, key string) error
}
