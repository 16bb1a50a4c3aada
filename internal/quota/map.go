package quota

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quotio/quotio/internal/provider"
)

// Map holds the latest quota snapshot per provider. Each provider's account
// map is replaced as a whole, never mutated in place, so readers always see
// a consistent snapshot.
type Map struct {
	byProvider *xsync.Map[provider.Provider, map[string]*AccountQuota]
}

// NewMap creates an empty quota map.
func NewMap() *Map {
	return &Map{byProvider: xsync.NewMap[provider.Provider, map[string]*AccountQuota]()}
}

// Replace atomically swaps in a new account map for the provider. The input
// map is cloned so later caller mutations can't leak into readers.
func (m *Map) Replace(p provider.Provider, accounts map[string]*AccountQuota) {
	clone := make(map[string]*AccountQuota, len(accounts))
	for k, v := range accounts {
		clone[k] = v
	}
	m.byProvider.Store(p, clone)
}

// Remove drops the provider's entry entirely. Used when a refresh returns
// no accounts: stale data must not outlive the accounts that produced it.
func (m *Map) Remove(p provider.Provider) {
	m.byProvider.Delete(p)
}

// Get returns the provider's account map, or nil when absent. The returned
// map must not be mutated.
func (m *Map) Get(p provider.Provider) map[string]*AccountQuota {
	accounts, _ := m.byProvider.Load(p)
	return accounts
}

// Snapshot returns a copy of the full provider→accounts view.
func (m *Map) Snapshot() map[provider.Provider]map[string]*AccountQuota {
	out := map[provider.Provider]map[string]*AccountQuota{}
	m.byProvider.Range(func(p provider.Provider, accounts map[string]*AccountQuota) bool {
		clone := make(map[string]*AccountQuota, len(accounts))
		for k, v := range accounts {
			clone[k] = v
		}
		out[p] = clone
		return true
	})
	return out
}

// Providers returns the providers that currently have quota data.
func (m *Map) Providers() []provider.Provider {
	var out []provider.Provider
	m.byProvider.Range(func(p provider.Provider, _ map[string]*AccountQuota) bool {
		out = append(out, p)
		return true
	})
	return out
}
