// Package stats builds read-side rollups over flag records for the admin
// dashboard. It holds no state of its own; summaries are recomputed from the
// flag store and cached with a short TTL (refresh-on-read).
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fernwood/warden/moderation/cachestore"
	"github.com/fernwood/warden/moderation/flagstore"
)

const (
	cacheScope = "stats"
	cacheKey   = "summary"
)

type Summary struct {
	TotalByStatus map[string]int64        `json:"totalByStatus"`
	TotalByType   map[string]int64        `json:"totalByType"`
	RecentFlagged []*flagstore.FlagRecord `json:"recentFlagged"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}

type Aggregator struct {
	Flags  flagstore.FlagStore
	Cache  cachestore.CacheStore
	Logger *slog.Logger

	// RecentN is how many recent pending flags the summary carries.
	RecentN int
}

func NewAggregator(flags flagstore.FlagStore, cache cachestore.CacheStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		Flags:   flags,
		Cache:   cache,
		Logger:  logger.With("source", "stats_aggregator"),
		RecentN: 10,
	}
}

// Summary returns the current rollup, serving a cached copy when fresh. A
// cache failure degrades to recomputation, never to an error.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	if cached, ok, err := a.Cache.Get(ctx, cacheScope, cacheKey); err != nil {
		a.Logger.Warn("stats cache read failed", "err", err)
	} else if ok {
		var out Summary
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return &out, nil
		}
		a.Logger.Warn("discarding malformed cached summary")
	}

	out, err := a.compute(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(out); err == nil {
		if err := a.Cache.Set(ctx, cacheScope, cacheKey, string(raw)); err != nil {
			a.Logger.Warn("stats cache write failed", "err", err)
		}
	}
	return out, nil
}

// Invalidate drops the cached summary. Called after flag transitions so the
// dashboard reflects them promptly.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if err := a.Cache.Purge(ctx, cacheScope, cacheKey); err != nil {
		a.Logger.Warn("stats cache purge failed", "err", err)
	}
}

func (a *Aggregator) compute(ctx context.Context) (*Summary, error) {
	byStatus, err := a.Flags.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := a.Flags.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.Flags.RecentFlagged(ctx, a.RecentN)
	if err != nil {
		return nil, err
	}
	return &Summary{
		TotalByStatus: byStatus,
		TotalByType:   byType,
		RecentFlagged: recent,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}
