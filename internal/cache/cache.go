// Package cache implements read-through caching of whole reference tables.
//
// Every entity owns a key prefix. Snapshots are stored under Entity.AllKey and are always complete:
// callers filter in memory and never cache filtered subsets. Any write to an entity must call
// Cache.Invalidate for it before reporting success.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/hospitaldesk/internal/logger"
)

// Upper bound of a shared load, it is not bound to any single caller
const loadTimeout = 10 * time.Second

type Entity struct {
	name string
}

var (
	Branches = Entity{name: "Branches"}
	Roles    = Entity{name: "Roles"}
	Menus    = Entity{name: "Menus"}
	Doctors  = Entity{name: "Doctors"}
	Vendors  = Entity{name: "Vendors"}
)

func (e Entity) String() string {
	return e.name
}

// Prefix shared by all keys of the entity, e.g. "_Branches_"
func (e Entity) Prefix() string {
	return "_" + e.name + "_"
}

// Key of the full table snapshot, e.g. "_Branches_All"
func (e Entity) AllKey() string {
	return e.Prefix() + "All"
}

type Cache struct {
	store Store

	// Concurrent misses of the same key share one load
	loads singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// GetOrLoad returns cached snapshot stored under key or loads it
// Empty results are returned but never stored
// Cache failures are logged and fall back to the loader: cache is an optimization, not a source of truth
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) ([]T, error)) ([]T, error) {
	log := logger.FromContext(ctx).With("cache_key", key)

	payload, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn("cache read failed, loading from source", "error", err)
	case ok:
		var items []T
		decodeErr := json.Unmarshal(payload, &items)
		if decodeErr == nil {
			return items, nil
		}
		log.Warn("cache entry is corrupted, reloading", "error", decodeErr)
	}

	// Load is shared by every caller of the key, so it runs detached from the caller that started it.
	// Each caller still stops waiting once its own ctx is done
	res := c.loads.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		items, err := load(loadCtx)
		if err != nil {
			return nil, err
		}

		if len(items) == 0 {
			return items, nil
		}

		payload, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("cache encode error: %w", err)
		}

		if err := c.store.Set(loadCtx, key, payload); err != nil {
			log.Warn("cache write failed", "error", err)
		}

		return items, nil
	})

	var v any
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		v = r.Val
	}

	// Callers sharing the load get the same slice, so hand each its own copy
	items := v.([]T)
	return append([]T(nil), items...), nil
}

// Invalidate drops every key of the entities
// Failure is logged: the write it follows is committed already and stale cache is tolerated
func (c *Cache) Invalidate(ctx context.Context, entities ...Entity) {
	for _, e := range entities {
		if err := c.store.DeleteByPrefix(ctx, e.Prefix()); err != nil {
			logger.FromContext(ctx).Error("cache invalidation failed", "entity", e.String(), "error", err)
		}
	}
}
