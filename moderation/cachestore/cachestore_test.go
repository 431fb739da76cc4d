package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCacheStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(10, time.Minute)

	_, ok, err := cs.Get(ctx, "stats", "summary")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(cs.Set(ctx, "stats", "summary", `{"total":1}`))
	v, ok, err := cs.Get(ctx, "stats", "summary")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(`{"total":1}`, v)

	// scopes don't collide
	_, ok, err = cs.Get(ctx, "prefs", "summary")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(cs.Purge(ctx, "stats", "summary"))
	_, ok, err = cs.Get(ctx, "stats", "summary")
	assert.NoError(err)
	assert.False(ok)
}

func TestMemCacheStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(10, 20*time.Millisecond)
	assert.NoError(cs.Set(ctx, "stats", "summary", "v"))
	time.Sleep(50 * time.Millisecond)

	_, ok, err := cs.Get(ctx, "stats", "summary")
	assert.NoError(err)
	assert.False(ok)
}
