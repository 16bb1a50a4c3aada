package quota

import (
	"context"
	"strings"
	"time"

	"github.com/quotio/quotio/internal/mgmt"
	"github.com/quotio/quotio/internal/provider"
)

// AuthFileLister is the slice of the management client the baseline fetchers
// need. mgmt.Client satisfies it.
type AuthFileLister interface {
	AuthFiles(ctx context.Context) ([]mgmt.AuthFile, error)
}

// RegisterAuthFileFetchers binds a baseline fetcher for every known provider.
// The baseline reports which accounts are connected (from the proxy's auth
// files) without quota numbers: QuotaCapable is false on every entry.
// Provider-specific fetchers registered afterwards override the baseline.
func RegisterAuthFileFetchers(reg *Registry, client AuthFileLister) {
	for _, p := range provider.All {
		p := p
		reg.Register(p, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
			files, err := client.AuthFiles(ctx)
			if err != nil {
				return nil, err
			}
			return accountsFromAuthFiles(files, p), nil
		}))
	}
}

func accountsFromAuthFiles(files []mgmt.AuthFile, p provider.Provider) map[string]*AccountQuota {
	now := time.Now()
	accounts := map[string]*AccountQuota{}
	for _, f := range files {
		if f.Disabled || !strings.EqualFold(f.Provider, string(p)) {
			continue
		}
		key := f.Email
		if key == "" {
			key = f.Name
		}
		accounts[key] = &AccountQuota{
			AccountEmail: f.Email,
			AccountName:  f.Account,
			QuotaCapable: false,
			LastUpdated:  now,
		}
	}
	return accounts
}
