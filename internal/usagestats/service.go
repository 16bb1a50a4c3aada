package usagestats

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quotio/quotio/internal/mgmt"
	"github.com/quotio/quotio/internal/scanloop"
)

// statsClient is the slice of the management client the poller needs.
// mgmt.Client satisfies it.
type statsClient interface {
	UsageStatistics(ctx context.Context) (*mgmt.UsageStats, error)
}

// retention bounds how far back snapshots are kept.
const retention = 30 * 24 * time.Hour

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Repo   *Repo
	Client statsClient

	// MinIntervalFn is re-read each poll cycle so interval changes apply
	// without a restart.
	MinIntervalFn func() time.Duration
	JitterRange   time.Duration
}

// Service polls the proxy's usage counters on a jittered interval and
// persists each reading. Poll failures are logged and retried on the next
// cycle; the proxy being down is a normal condition, not an error.
type Service struct {
	repo   *Repo
	client statsClient

	minIntervalFn func() time.Duration
	jitterRange   time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a stopped poller.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Repo == nil || cfg.Client == nil {
		panic("usagestats: ServiceConfig requires Repo and Client")
	}
	minIntervalFn := cfg.MinIntervalFn
	if minIntervalFn == nil {
		minIntervalFn = func() time.Duration { return scanloop.DefaultMinInterval }
	}
	jitter := cfg.JitterRange
	if jitter <= 0 {
		jitter = scanloop.DefaultJitterRange
	}
	return &Service{
		repo:          cfg.Repo,
		client:        cfg.Client,
		minIntervalFn: minIntervalFn,
		jitterRange:   jitter,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the poll loop.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			scanloop.Run(s.stopCh, s.minIntervalFn, s.jitterRange, s.poll)
		}()
	})
}

// Stop halts the poll loop and waits for an in-flight poll to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), mgmt.DefaultTimeout)
	defer cancel()

	stats, err := s.client.UsageStatistics(ctx)
	if err != nil {
		log.Printf("[usagestats] poll: %v", err)
		return
	}
	snap := Snapshot{
		TakenAt:       time.Now(),
		TotalRequests: stats.TotalRequests,
		SuccessCount:  stats.SuccessCount,
		FailureCount:  stats.FailureCount,
		TotalTokens:   stats.TotalTokens,
	}
	if err := s.repo.Record(snap); err != nil {
		log.Printf("[usagestats] %v", err)
		return
	}
	if err := s.repo.Prune(snap.TakenAt.Add(-retention)); err != nil {
		log.Printf("[usagestats] %v", err)
	}
}
