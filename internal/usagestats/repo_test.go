package usagestats

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotio/quotio/internal/mgmt"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepo_RecordAndLatest(t *testing.T) {
	repo := openTestRepo(t)

	if _, ok, err := repo.Latest(); err != nil || ok {
		t.Fatalf("empty repo: ok=%v err=%v", ok, err)
	}

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		err := repo.Record(Snapshot{
			TakenAt:       base.Add(time.Duration(i) * time.Minute),
			TotalRequests: int64(10 * (i + 1)),
			SuccessCount:  int64(9 * (i + 1)),
			FailureCount:  int64(i + 1),
			TotalTokens:   int64(1000 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	latest, ok, err := repo.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.TotalRequests != 30 || latest.TotalTokens != 3000 {
		t.Errorf("latest: got %+v", latest)
	}
	if !latest.TakenAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("latest taken at: got %s", latest.TakenAt)
	}
}

func TestRepo_SinceAndPrune(t *testing.T) {
	repo := openTestRepo(t)

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		if err := repo.Record(Snapshot{
			TakenAt:       base.Add(time.Duration(i) * time.Hour),
			TotalRequests: int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	snaps, err := repo.Since(base.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Since: got %d snapshots", len(snaps))
	}
	if snaps[0].TotalRequests != 3 || snaps[1].TotalRequests != 4 {
		t.Errorf("Since order: got %+v", snaps)
	}

	if err := repo.Prune(base.Add(4 * time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	snaps, err = repo.Since(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].TotalRequests != 4 {
		t.Errorf("after prune: got %+v", snaps)
	}
}

func TestRepo_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.db")

	repo, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Record(Snapshot{TakenAt: time.Now(), TotalRequests: 42}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}

	repo, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	latest, ok, err := repo.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest after reopen: ok=%v err=%v", ok, err)
	}
	if latest.TotalRequests != 42 {
		t.Errorf("latest after reopen: got %+v", latest)
	}
}

func TestSnapshot_SuccessRate(t *testing.T) {
	if _, ok := (Snapshot{}).SuccessRate(); ok {
		t.Error("no requests should report no rate")
	}
	rate, ok := (Snapshot{SuccessCount: 9, FailureCount: 1}).SuccessRate()
	if !ok || rate != 0.9 {
		t.Errorf("rate: got %v ok=%v", rate, ok)
	}
}

type fakeStatsClient struct {
	stats *mgmt.UsageStats
	err   error
	calls int
}

func (f *fakeStatsClient) UsageStatistics(ctx context.Context) (*mgmt.UsageStats, error) {
	f.calls++
	return f.stats, f.err
}

func TestService_PollRecordsSnapshot(t *testing.T) {
	repo := openTestRepo(t)
	client := &fakeStatsClient{
		stats: &mgmt.UsageStats{TotalRequests: 7, SuccessCount: 6, FailureCount: 1, TotalTokens: 99},
	}
	svc := NewService(ServiceConfig{Repo: repo, Client: client})

	svc.poll()

	latest, ok, err := repo.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.TotalRequests != 7 || latest.TotalTokens != 99 {
		t.Errorf("snapshot: got %+v", latest)
	}
}

func TestService_PollErrorIsNonFatal(t *testing.T) {
	repo := openTestRepo(t)
	client := &fakeStatsClient{err: errors.New("proxy down")}
	svc := NewService(ServiceConfig{Repo: repo, Client: client})

	svc.poll()

	if _, ok, err := repo.Latest(); err != nil || ok {
		t.Fatalf("no snapshot expected: ok=%v err=%v", ok, err)
	}

	// Recovery on a later cycle.
	client.err = nil
	client.stats = &mgmt.UsageStats{TotalRequests: 1}
	svc.poll()
	if _, ok, _ := repo.Latest(); !ok {
		t.Error("snapshot expected after recovery")
	}
}
