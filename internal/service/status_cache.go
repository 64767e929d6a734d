package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/recapbook/api/internal/cache"
	"github.com/recapbook/api/internal/model"
)

// StatusCache is a read-through cache of encoded status snapshots. Entries
// are never invalidated; staleness is bounded by the TTL alone.
type StatusCache struct {
	cache   cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	compute func(ctx context.Context, runID string) (*model.StatusSnapshot, error)
}

func NewStatusCache(c cache.Cache, ttl time.Duration, compute func(ctx context.Context, runID string) (*model.StatusSnapshot, error)) *StatusCache {
	return &StatusCache{cache: c, ttl: ttl, compute: compute}
}

// Get returns the encoded snapshot for runID. Cache failures fall back to
// computing the snapshot directly.
func (sc *StatusCache) Get(ctx context.Context, runID string) ([]byte, error) {
	key := "status:" + runID

	data, err := sc.cache.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	available := errors.Is(err, cache.ErrMiss)
	if !available {
		log.Printf("Warning: status cache unavailable, computing directly: %v", err)
	}

	// the result is shared with every waiter, so it must not depend on
	// whichever caller happened to start the computation
	v, err, _ := sc.group.Do(runID, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		snap, err := sc.compute(ctx, runID)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to encode status: %w", err)
		}
		if available {
			if err := sc.cache.Set(ctx, key, data, sc.ttl); err != nil {
				log.Printf("Warning: failed to cache status for %s: %v", runID, err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
