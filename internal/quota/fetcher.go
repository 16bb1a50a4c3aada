package quota

import (
	"context"
	"sync"

	"github.com/quotio/quotio/internal/provider"
)

// Fetcher retrieves the quota snapshot for every account of one provider.
// The returned map is keyed by account key (email or auth-file identifier).
// An empty map with a nil error means the provider has no accounts.
type Fetcher interface {
	FetchAllQuotas(ctx context.Context) (map[string]*AccountQuota, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (map[string]*AccountQuota, error)

func (f FetcherFunc) FetchAllQuotas(ctx context.Context) (map[string]*AccountQuota, error) {
	return f(ctx)
}

// Registry binds providers to their fetchers. Bindings are set during
// startup and read by the pipeline afterwards.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[provider.Provider]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[provider.Provider]Fetcher{}}
}

// Register binds a fetcher to a provider, replacing any previous binding.
func (r *Registry) Register(p provider.Provider, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[p] = f
}

// Lookup returns the fetcher bound to p, or nil.
func (r *Registry) Lookup(p provider.Provider) Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchers[p]
}

// Providers returns every provider with a registered fetcher.
func (r *Registry) Providers() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Provider, 0, len(r.fetchers))
	for p := range r.fetchers {
		out = append(out, p)
	}
	return out
}
