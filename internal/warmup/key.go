// Package warmup keeps selected provider accounts warm by issuing minimal
// scheduled generation requests through the proxy.
package warmup

import (
	"strings"

	"github.com/quotio/quotio/internal/provider"
)

// AccountKey identifies one warmup-managed account.
type AccountKey struct {
	Provider provider.Provider
	Key      string
}

// ID renders the key as "provider::accountKey". ParseID inverts it exactly.
func (k AccountKey) ID() string {
	return string(k.Provider) + "::" + k.Key
}

// ParseID parses an account ID produced by ID. Returns false for malformed
// input or unknown providers.
func ParseID(id string) (AccountKey, bool) {
	providerPart, keyPart, found := strings.Cut(id, "::")
	if !found || providerPart == "" || keyPart == "" {
		return AccountKey{}, false
	}
	p := provider.Provider(providerPart)
	if !p.Known() {
		return AccountKey{}, false
	}
	return AccountKey{Provider: p, Key: keyPart}, true
}
