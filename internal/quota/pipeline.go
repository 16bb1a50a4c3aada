package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotio/quotio/internal/provider"
)

// ErrNoFetcher is returned by ScanProvider for a provider without a binding.
var ErrNoFetcher = errors.New("quota: no fetcher registered")

// PipelineConfig wires the refresh pipeline.
type PipelineConfig struct {
	Quotas   *Map
	Registry *Registry
	// OnUpdate runs after each provider's snapshot is swapped in, so the UI
	// can render progressively instead of waiting for the slowest provider.
	OnUpdate func(p provider.Provider)
	// Alert runs after OnUpdate with the fresh snapshot, for low-quota checks.
	Alert func(p provider.Provider, accounts map[string]*AccountQuota)
}

// Pipeline refreshes quota snapshots across all providers in parallel,
// isolating each provider's failures from the rest.
type Pipeline struct {
	quotas     *Map
	registry   *Registry
	onUpdate   func(p provider.Provider)
	alert      func(p provider.Provider, accounts map[string]*AccountQuota)
	refreshing atomic.Bool
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Quotas == nil {
		panic("quota: NewPipeline requires non-nil Quotas")
	}
	if cfg.Registry == nil {
		panic("quota: NewPipeline requires non-nil Registry")
	}
	return &Pipeline{
		quotas:   cfg.Quotas,
		registry: cfg.Registry,
		onUpdate: cfg.OnUpdate,
		alert:    cfg.Alert,
	}
}

// Refreshing reports whether a RefreshAll cycle is currently running.
func (p *Pipeline) Refreshing() bool {
	return p.refreshing.Load()
}

// RefreshAll fetches quota for every registered provider in parallel and
// swaps each provider's snapshot in as it completes. Providers that require
// an explicit scan are skipped. Only one cycle runs at a time; a call that
// overlaps a running cycle is a no-op, not an error — the in-flight cycle
// already covers it. Refreshing distinguishes the two when callers care.
func (p *Pipeline) RefreshAll(ctx context.Context) error {
	if !p.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer p.refreshing.Store(false)

	var targets []provider.Provider
	for _, prov := range p.registry.Providers() {
		if prov.RequiresExplicitScan() {
			continue
		}
		targets = append(targets, prov)
	}
	if len(targets) == 0 {
		return nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, prov := range targets {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(prov provider.Provider) {
			defer wg.Done()
			defer func() { <-sem }()
			p.refreshProvider(ctx, prov)
		}(prov)
	}
	wg.Wait()
	return ctx.Err()
}

// ScanProvider runs the per-provider refresh contract for one provider on
// explicit user action. This is the only path that fetches quota for
// privacy-gated providers.
func (p *Pipeline) ScanProvider(ctx context.Context, prov provider.Provider) error {
	if p.registry.Lookup(prov) == nil {
		return fmt.Errorf("%w: %s", ErrNoFetcher, prov)
	}
	p.refreshProvider(ctx, prov)
	return nil
}

// refreshProvider fetches one provider's quota and applies the result.
// A failed fetch leaves the previous snapshot intact; an empty result
// removes the provider entirely. Panics in fetchers are contained here so
// one misbehaving provider cannot take down the cycle.
func (p *Pipeline) refreshProvider(ctx context.Context, prov provider.Provider) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[quota] fetcher for %s panicked: %v", prov, r)
		}
	}()

	fetcher := p.registry.Lookup(prov)
	if fetcher == nil {
		return
	}

	started := time.Now()
	accounts, err := fetcher.FetchAllQuotas(ctx)
	if err != nil {
		log.Printf("[quota] refresh %s failed after %s: %v", prov, time.Since(started).Round(time.Millisecond), err)
		return
	}

	if len(accounts) == 0 {
		p.quotas.Remove(prov)
	} else {
		p.quotas.Replace(prov, accounts)
	}

	if p.onUpdate != nil {
		p.onUpdate(prov)
	}
	if p.alert != nil && len(accounts) > 0 {
		p.alert(prov, accounts)
	}
}
