package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemCacheStore struct {
	data *expirable.LRU[string, string]
}

var _ CacheStore = (*MemCacheStore)(nil)

func NewMemCacheStore(capacity int, ttl time.Duration) *MemCacheStore {
	return &MemCacheStore{
		data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemCacheStore) Get(ctx context.Context, scope, key string) (string, bool, error) {
	v, ok := s.data.Get(scope + "/" + key)
	return v, ok, nil
}

func (s *MemCacheStore) Set(ctx context.Context, scope, key string, val string) error {
	s.data.Add(scope+"/"+key, val)
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, scope, key string) error {
	s.data.Remove(scope + "/" + key)
	return nil
}
