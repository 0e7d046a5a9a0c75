package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arnold/klibrarian-api/internal/invite"
	"golang.org/x/sync/singleflight"
)

const catalogFetchTimeout = 15 * time.Second

// CatalogSource is a backend that can list what it shares.
type CatalogSource interface {
	Kind() invite.Kind
	Catalog(ctx context.Context) (invite.BackendCatalog, error)
}

type catalogEntry struct {
	catalog   invite.BackendCatalog
	fetchedAt time.Time
}

// CatalogCache keeps one catalog per backend kind. Cached may serve a
// catalog up to ttl old; Fresh always asks the backend. Kinds are fetched
// independently so one unreachable backend does not affect the other.
type CatalogCache struct {
	sources map[invite.Kind]CatalogSource
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[invite.Kind]catalogEntry
}

func NewCatalogCache(ttl time.Duration, sources ...CatalogSource) *CatalogCache {
	c := &CatalogCache{
		sources: make(map[invite.Kind]CatalogSource, len(sources)),
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[invite.Kind]catalogEntry),
	}
	for _, src := range sources {
		c.sources[src.Kind()] = src
	}
	return c
}

// Cached returns every backend's catalog. A backend whose catalog cannot be
// fetched is reported inactive.
func (c *CatalogCache) Cached(ctx context.Context) (invite.Config, error) {
	cfg := invite.Config{Komga: inactive(), Navidrome: inactive()}
	for _, kind := range []invite.Kind{invite.KindKomga, invite.KindNavidrome} {
		if _, ok := c.sources[kind]; !ok {
			continue
		}
		cat, err := c.cached(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return invite.Config{}, ctx.Err()
			}
			slog.WarnContext(ctx, "catalog unavailable, reporting backend inactive", "kind", kind, "err", err)
			continue
		}
		setCatalog(&cfg, kind, cat)
	}
	return cfg, nil
}

// Fresh fetches kind's catalog from its backend. The other kinds are
// reported inactive in the returned config.
func (c *CatalogCache) Fresh(ctx context.Context, kind invite.Kind) (invite.Config, error) {
	cfg := invite.Config{Komga: inactive(), Navidrome: inactive()}
	cat, err := c.fetch(ctx, kind)
	if err != nil {
		return invite.Config{}, err
	}
	setCatalog(&cfg, kind, cat)
	return cfg, nil
}

func (c *CatalogCache) cached(ctx context.Context, kind invite.Kind) (invite.BackendCatalog, error) {
	c.mu.RLock()
	e, ok := c.entries[kind]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.catalog, nil
	}

	// The shared fetch must not die with whichever caller started it.
	ch := c.group.DoChan(string(kind), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogFetchTimeout)
		defer cancel()
		return c.fetch(fctx, kind)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return invite.BackendCatalog{}, res.Err
		}
		return res.Val.(invite.BackendCatalog), nil
	case <-ctx.Done():
		return invite.BackendCatalog{}, ctx.Err()
	}
}

func (c *CatalogCache) fetch(ctx context.Context, kind invite.Kind) (invite.BackendCatalog, error) {
	src, ok := c.sources[kind]
	if !ok {
		return inactive(), nil
	}
	cat, err := src.Catalog(ctx)
	if err != nil {
		slog.WarnContext(ctx, "catalog fetch failed", "kind", kind, "err", err)
		return invite.BackendCatalog{}, err
	}
	if cat.Libraries == nil {
		cat.Libraries = []invite.Library{}
	}
	if cat.Labels == nil {
		cat.Labels = []string{}
	}

	c.mu.Lock()
	c.entries[kind] = catalogEntry{catalog: cat, fetchedAt: c.now()}
	c.mu.Unlock()
	return cat, nil
}

func setCatalog(cfg *invite.Config, kind invite.Kind, cat invite.BackendCatalog) {
	switch kind {
	case invite.KindKomga:
		cfg.Komga = cat
	case invite.KindNavidrome:
		cfg.Navidrome = cat
	}
}

func inactive() invite.BackendCatalog {
	return invite.BackendCatalog{Libraries: []invite.Library{}, Labels: []string{}}
}
