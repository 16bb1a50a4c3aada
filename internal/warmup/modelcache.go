package warmup

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/quotio/quotio/internal/mgmt"
)

// modelCache is a bounded TTL cache of per-auth-file model lists backed by
// an otter cache. Model catalogs change rarely, so entries stay valid for
// hours and the scheduler avoids re-listing models on every pass.
type modelCache struct {
	cache otter.Cache[string, []mgmt.ModelInfo]
}

func newModelCache(maxEntries int, ttl time.Duration) *modelCache {
	cache, err := otter.MustBuilder[string, []mgmt.ModelInfo](maxEntries).
		Cost(func(_ string, _ []mgmt.ModelInfo) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("warmup: failed to create model cache: " + err.Error())
	}
	return &modelCache{cache: cache}
}

func (c *modelCache) get(authFileName string) ([]mgmt.ModelInfo, bool) {
	return c.cache.Get(authFileName)
}

func (c *modelCache) set(authFileName string, models []mgmt.ModelInfo) {
	c.cache.Set(authFileName, models)
}

func (c *modelCache) invalidate(authFileName string) {
	c.cache.Delete(authFileName)
}

func (c *modelCache) close() {
	c.cache.Close()
}
