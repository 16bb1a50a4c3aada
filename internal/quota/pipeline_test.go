package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quotio/quotio/internal/provider"
)

func snapshot(email string, pct float64) map[string]*AccountQuota {
	return map[string]*AccountQuota{
		email: {
			AccountEmail: email,
			Models:       []ModelQuota{{Name: "default", Percentage: pct}},
			LastUpdated:  time.Now(),
		},
	}
}

func TestRefreshAll_FailureIsolation(t *testing.T) {
	quotas := NewMap()
	reg := NewRegistry()
	reg.Register(provider.Claude, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		return snapshot("ok@example.com", 80), nil
	}))
	reg.Register(provider.Codex, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		return nil, errors.New("token expired")
	}))
	reg.Register(provider.GeminiCLI, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		panic("boom")
	}))

	// Pre-populate Codex so a failed fetch provably leaves stale data intact.
	quotas.Replace(provider.Codex, snapshot("stale@example.com", 50))

	pipe := NewPipeline(PipelineConfig{Quotas: quotas, Registry: reg})
	if err := pipe.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if got := quotas.Get(provider.Claude); got == nil || got["ok@example.com"] == nil {
		t.Error("successful provider missing from map")
	}
	if got := quotas.Get(provider.Codex); got == nil || got["stale@example.com"] == nil {
		t.Error("failed fetch should preserve the previous snapshot")
	}
	if got := quotas.Get(provider.GeminiCLI); got != nil {
		t.Error("panicking fetcher should not publish data")
	}
}

func TestRefreshAll_EmptyResultRemovesProvider(t *testing.T) {
	quotas := NewMap()
	quotas.Replace(provider.Qwen, snapshot("gone@example.com", 10))

	reg := NewRegistry()
	reg.Register(provider.Qwen, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		return map[string]*AccountQuota{}, nil
	}))

	pipe := NewPipeline(PipelineConfig{Quotas: quotas, Registry: reg})
	if err := pipe.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if got := quotas.Get(provider.Qwen); got != nil {
		t.Errorf("empty result should remove the provider entry, got %v", got)
	}
}

func TestRefreshAll_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var fetches atomic.Int32

	reg := NewRegistry()
	reg.Register(provider.Claude, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		fetches.Add(1)
		once.Do(func() { close(started) })
		<-release
		return snapshot("a@example.com", 90), nil
	}))

	pipe := NewPipeline(PipelineConfig{Quotas: NewMap(), Registry: reg})

	done := make(chan error, 1)
	go func() { done <- pipe.RefreshAll(context.Background()) }()
	<-started

	// An overlapping call is a silent no-op: no error, no second fetch.
	if err := pipe.RefreshAll(context.Background()); err != nil {
		t.Errorf("concurrent RefreshAll: got %v, want nil", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("overlapping call must not fetch again: got %d fetches", got)
	}
	if !pipe.Refreshing() {
		t.Error("Refreshing should report true mid-cycle")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RefreshAll: %v", err)
	}
	if pipe.Refreshing() {
		t.Error("Refreshing should report false after the cycle")
	}
}

func TestRefreshAll_SkipsPrivacyGatedProviders(t *testing.T) {
	var cursorCalls atomic.Int64
	reg := NewRegistry()
	reg.Register(provider.Cursor, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		cursorCalls.Add(1)
		return snapshot("c@example.com", 40), nil
	}))

	quotas := NewMap()
	pipe := NewPipeline(PipelineConfig{Quotas: quotas, Registry: reg})
	if err := pipe.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if cursorCalls.Load() != 0 {
		t.Error("background refresh must not touch privacy-gated providers")
	}

	// The explicit scan path runs the same contract.
	if err := pipe.ScanProvider(context.Background(), provider.Cursor); err != nil {
		t.Fatalf("ScanProvider: %v", err)
	}
	if cursorCalls.Load() != 1 {
		t.Error("explicit scan should invoke the fetcher")
	}
	if got := quotas.Get(provider.Cursor); got == nil {
		t.Error("explicit scan should publish the snapshot")
	}
}

func TestRefreshAll_ProgressiveCallbacksAndAlerts(t *testing.T) {
	reg := NewRegistry()
	reg.Register(provider.Claude, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		return snapshot("a@example.com", 15), nil
	}))
	reg.Register(provider.Codex, FetcherFunc(func(ctx context.Context) (map[string]*AccountQuota, error) {
		return nil, errors.New("down")
	}))

	var mu sync.Mutex
	var updated []provider.Provider
	var alerted []provider.Provider

	pipe := NewPipeline(PipelineConfig{
		Quotas:   NewMap(),
		Registry: reg,
		OnUpdate: func(p provider.Provider) {
			mu.Lock()
			updated = append(updated, p)
			mu.Unlock()
		},
		Alert: func(p provider.Provider, accounts map[string]*AccountQuota) {
			mu.Lock()
			alerted = append(alerted, p)
			mu.Unlock()
		},
	})
	if err := pipe.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if len(updated) != 1 || updated[0] != provider.Claude {
		t.Errorf("OnUpdate calls: got %v, want [claude]", updated)
	}
	if len(alerted) != 1 || alerted[0] != provider.Claude {
		t.Errorf("Alert calls: got %v, want [claude]", alerted)
	}
}

func TestScanProvider_NoFetcher(t *testing.T) {
	pipe := NewPipeline(PipelineConfig{Quotas: NewMap(), Registry: NewRegistry()})
	if err := pipe.ScanProvider(context.Background(), provider.Trae); !errors.Is(err, ErrNoFetcher) {
		t.Errorf("got %v, want ErrNoFetcher", err)
	}
}
