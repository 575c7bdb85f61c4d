package catalog

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cached is a read-through cache in front of another Catalog. The catalog is
// close to static, so resolves during registration and export hit the cache
// rather than the record store. Negative results are not cached: an unknown
// type stays an error until the store says otherwise.
type Cached struct {
	inner Catalog
	cache *ttlcache.Cache[string, DeviceType]
}

// NewCached wraps inner with a TTL cache on Resolve. List always passes
// through so administrative tooling sees the store directly.
func NewCached(inner Catalog, ttl time.Duration) *Cached {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, DeviceType](ttl),
		ttlcache.WithDisableTouchOnHit[string, DeviceType](),
	)
	go cache.Start()
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Resolve(ctx context.Context, deviceType string) (DeviceType, error) {
	if item := c.cache.Get(deviceType); item != nil {
		return item.Value(), nil
	}
	dt, err := c.inner.Resolve(ctx, deviceType)
	if err != nil {
		return DeviceType{}, err
	}
	c.cache.Set(deviceType, dt, ttlcache.DefaultTTL)
	return dt, nil
}

func (c *Cached) List(ctx context.Context) ([]DeviceType, error) {
	return c.inner.List(ctx)
}

// Stop halts the cache janitor goroutine.
func (c *Cached) Stop() {
	c.cache.Stop()
}
