package warmup

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quotio/quotio/internal/mgmt"
	"github.com/quotio/quotio/internal/provider"
)

// wakeCap bounds how long the loop sleeps so newly enabled accounts and
// settings changes are picked up promptly.
const wakeCap = time.Minute

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Settings *Settings
	Service  *Service
	Client   managementAPI
	Board    *Board
	ProxyUp  func(ctx context.Context) bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler drives periodic warmup passes over the enabled accounts. Each
// account carries its own next-run time derived from its cadence or daily
// schedule.
type Scheduler struct {
	settings *Settings
	service  *Service
	client   managementAPI
	board    *Board
	proxyUp  func(ctx context.Context) bool
	now      func() time.Time

	mu       sync.Mutex
	nextRuns map[string]time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup

	cycling atomic.Bool
}

// NewScheduler creates a stopped scheduler. Call Restart to begin.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Settings == nil || cfg.Service == nil || cfg.Client == nil || cfg.Board == nil {
		panic("warmup: SchedulerConfig requires Settings, Service, Client, and Board")
	}
	proxyUp := cfg.ProxyUp
	if proxyUp == nil {
		proxyUp = func(context.Context) bool { return true }
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		settings: cfg.Settings,
		service:  cfg.Service,
		client:   cfg.Client,
		board:    cfg.Board,
		proxyUp:  proxyUp,
		now:      now,
		nextRuns: map[string]time.Time{},
	}
}

// Restart recomputes every enabled account's next run and (re)starts the
// loop. Interval accounts become due immediately; daily accounts wait for
// their next scheduled time of day.
func (s *Scheduler) Restart() {
	s.Stop()

	now := s.now()
	s.mu.Lock()
	s.nextRuns = map[string]time.Time{}
	for _, id := range s.settings.EnabledIDs() {
		k, ok := ParseID(id)
		if !ok {
			continue
		}
		s.nextRuns[id] = s.initialNextRun(k, now)
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(stopCh)
}

// Stop halts the loop. In-flight passes finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// NextRun returns the account's scheduled next run.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.nextRuns[id]
	return t, ok
}

// RunNow marks every enabled account due and runs a pass immediately.
func (s *Scheduler) RunNow(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	for id := range s.nextRuns {
		s.nextRuns[id] = now
	}
	s.mu.Unlock()
	s.runCycle(ctx)
}

func (s *Scheduler) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()
	for {
		sleep := s.untilNextDue()
		timer := time.NewTimer(sleep)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runCycle(context.Background())
	}
}

// untilNextDue returns how long to sleep before the earliest next run,
// capped so configuration changes apply within a minute.
func (s *Scheduler) untilNextDue() time.Duration {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	sleep := wakeCap
	for _, at := range s.nextRuns {
		if d := at.Sub(now); d < sleep {
			sleep = d
		}
	}
	if sleep < 0 {
		return 0
	}
	return sleep
}

// runCycle executes one pass: sync the enabled set, collect due accounts,
// and warm them sequentially in a stable order. Reentrant calls are dropped.
func (s *Scheduler) runCycle(ctx context.Context) {
	if !s.cycling.CompareAndSwap(false, true) {
		return
	}
	defer s.cycling.Store(false)

	now := s.now()
	s.syncAccounts(now)

	due := s.dueAccounts(now)
	if len(due) == 0 {
		return
	}

	if !s.proxyUp(ctx) {
		// Proxy is down: push the due accounts to their next slot rather
		// than hammering a dead port.
		log.Printf("[warmup] proxy not responding, rescheduling %d due account(s)", len(due))
		s.rescheduleAll(due, now)
		return
	}

	files, err := s.client.AuthFiles(ctx)
	if err != nil {
		log.Printf("[warmup] list auth files: %v", err)
		s.rescheduleAll(due, now)
		return
	}

	provider.SortKeys(due, func(id string) string {
		if k, ok := ParseID(id); ok {
			return k.Provider.DisplayName() + " " + k.Key
		}
		return id
	})

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		s.warmOne(ctx, id, files, now)
	}
}

// warmOne runs a single account's pass and schedules its next run.
func (s *Scheduler) warmOne(ctx context.Context, id string, files []mgmt.AuthFile, now time.Time) {
	k, ok := ParseID(id)
	if !ok {
		s.mu.Lock()
		delete(s.nextRuns, id)
		s.mu.Unlock()
		return
	}
	next := s.computeNextRun(k, now)
	s.mu.Lock()
	s.nextRuns[id] = next
	s.mu.Unlock()

	st, _ := s.board.Get(id)
	st.NextRun = next

	file := matchAuthFile(files, k)
	if file == nil {
		st.IsRunning = false
		st.LastError = fmt.Sprintf("no credential file matches %s", k.Key)
		s.board.Set(id, st)
		return
	}

	models := s.settings.SelectedModels(k)
	if len(models) == 0 {
		infos, err := s.service.Models(ctx, file.Name)
		if err != nil {
			st.IsRunning = false
			st.LastError = err.Error()
			s.board.Set(id, st)
			return
		}
		for _, info := range infos {
			models = append(models, info.ID)
		}
	}
	if len(models) == 0 {
		st.IsRunning = false
		st.LastError = "account exposes no models"
		s.board.Set(id, st)
		return
	}

	authIndex := file.Index
	if authIndex == "" {
		authIndex = file.Name
	}
	st = s.service.WarmAccount(ctx, authIndex, models, st, func(update Status) {
		update.NextRun = next
		s.board.Set(id, update)
	})
	log.Printf("[warmup] %s: %d/%d models warmed, next run %s",
		id, succeededCount(st), st.ProgressTotal, next.Format(time.RFC3339))
}

// syncAccounts reconciles the schedule with the enabled set: newly enabled
// accounts get an initial next run, disabled ones drop out.
func (s *Scheduler) syncAccounts(now time.Time) {
	enabled := map[string]struct{}{}
	for _, id := range s.settings.EnabledIDs() {
		enabled[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.nextRuns {
		if _, ok := enabled[id]; !ok {
			delete(s.nextRuns, id)
		}
	}
	for id := range enabled {
		if _, ok := s.nextRuns[id]; ok {
			continue
		}
		if k, ok := ParseID(id); ok {
			s.nextRuns[id] = s.initialNextRun(k, now)
		}
	}
}

func (s *Scheduler) dueAccounts(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for id, at := range s.nextRuns {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	return due
}

func (s *Scheduler) rescheduleAll(ids []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if k, ok := ParseID(id); ok {
			s.nextRuns[id] = s.computeNextRun(k, now)
		}
	}
}

// initialNextRun is the first scheduling decision after Restart: interval
// accounts run right away, daily accounts wait for their time of day.
func (s *Scheduler) initialNextRun(k AccountKey, now time.Time) time.Time {
	if s.settings.ScheduleModeFor(k) == ScheduleDaily {
		return s.nextDaily(k, now)
	}
	return now
}

// computeNextRun schedules the run after one at "from".
func (s *Scheduler) computeNextRun(k AccountKey, from time.Time) time.Time {
	if s.settings.ScheduleModeFor(k) == ScheduleDaily {
		return s.nextDaily(k, from)
	}
	return from.Add(s.settings.CadenceFor(k).Interval())
}

func (s *Scheduler) nextDaily(k AccountKey, from time.Time) time.Time {
	minutes := s.settings.DailyMinutesFor(k)
	spec := fmt.Sprintf("%d %d * * *", minutes%60, minutes/60)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		// Unreachable with clamped minutes; fall back to a day.
		return from.Add(24 * time.Hour)
	}
	return sched.Next(from)
}

// matchAuthFile finds the credential file for an account key. Keys coming
// from quota snapshots sometimes flatten the email's "@" into a dot, so the
// match also tries that form. Best effort.
func matchAuthFile(files []mgmt.AuthFile, k AccountKey) *mgmt.AuthFile {
	email := dottedKeyToEmail(k.Key)
	for i := range files {
		f := &files[i]
		if !strings.EqualFold(f.Provider, string(k.Provider)) {
			continue
		}
		if f.Email == k.Key || f.Account == k.Key || (email != "" && f.Email == email) {
			return f
		}
	}
	for i := range files {
		f := &files[i]
		if strings.EqualFold(f.Provider, string(k.Provider)) && strings.Contains(f.Name, k.Key) {
			return f
		}
	}
	return nil
}

// dottedKeyToEmail turns "user.example.com" into "user@example.com", taking
// the last two dot-segments as the domain. Best-effort: ambiguous for exotic
// TLDs, so callers treat it as a secondary match only. Returns "" when the
// key already looks like an email or has too few segments.
func dottedKeyToEmail(key string) string {
	if strings.Contains(key, "@") {
		return ""
	}
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return ""
	}
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	user := strings.Join(parts[:len(parts)-2], ".")
	return user + "@" + parts[len(parts)-2] + "." + parts[len(parts)-1]
}

func succeededCount(st Status) int {
	n := 0
	for _, state := range st.ModelStates {
		if state == ModelSucceeded {
			n++
		}
	}
	return n
}
