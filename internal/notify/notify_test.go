package notify

import (
	"sync"
	"testing"

	"github.com/quotio/quotio/internal/provider"
	"github.com/quotio/quotio/internal/quota"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, title+": "+body)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestNotifier(sender Sender, threshold float64) *Notifier {
	return New(Config{
		Sender:            sender,
		EnabledFn:         func() bool { return true },
		QuotaLowEnabledFn: func() bool { return true },
		ThresholdFn:       func() float64 { return threshold },
	})
}

func lowAccount(email string, pct float64) map[string]*quota.AccountQuota {
	return map[string]*quota.AccountQuota{
		email: {
			AccountEmail: email,
			Models:       []quota.ModelQuota{{Name: "m", Percentage: pct}},
		},
	}
}

func TestCheckQuota_AlertsOncePerEpisode(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender, 20)

	accounts := lowAccount("a@example.com", 10)
	n.CheckQuota(provider.Claude, accounts)
	n.CheckQuota(provider.Claude, accounts)
	if got := sender.count(); got != 1 {
		t.Fatalf("alerts: got %d, want 1 (deduped)", got)
	}

	// Recovery above the threshold re-arms the alert.
	n.CheckQuota(provider.Claude, lowAccount("a@example.com", 90))
	n.CheckQuota(provider.Claude, lowAccount("a@example.com", 5))
	if got := sender.count(); got != 2 {
		t.Fatalf("alerts after recovery: got %d, want 2", got)
	}
}

func TestCheckQuota_UnknownPercentageNeverAlerts(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender, 20)

	n.CheckQuota(provider.Codex, lowAccount("a@example.com", quota.PercentUnknown))
	if got := sender.count(); got != 0 {
		t.Fatalf("alerts: got %d, want 0 for unknown percentage", got)
	}
}

func TestCheckQuota_ThresholdBoundary(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender, 20)

	n.CheckQuota(provider.Claude, lowAccount("at@example.com", 20))
	if got := sender.count(); got != 1 {
		t.Fatalf("pct == threshold should alert, got %d sends", got)
	}
	n.CheckQuota(provider.Claude, lowAccount("above@example.com", 20.1))
	if got := sender.count(); got != 1 {
		t.Fatalf("pct just above threshold should not alert, got %d sends", got)
	}
}

func TestCheckQuota_DisabledDoesNotConsumeDedup(t *testing.T) {
	sender := &fakeSender{}
	enabled := false
	n := New(Config{
		Sender:            sender,
		EnabledFn:         func() bool { return enabled },
		QuotaLowEnabledFn: func() bool { return true },
		ThresholdFn:       func() float64 { return 20 },
	})

	n.CheckQuota(provider.Claude, lowAccount("a@example.com", 10))
	if got := sender.count(); got != 0 {
		t.Fatalf("disabled notifier sent %d alerts", got)
	}

	// Enabling afterwards must still deliver the pending condition.
	enabled = true
	n.CheckQuota(provider.Claude, lowAccount("a@example.com", 10))
	if got := sender.count(); got != 1 {
		t.Fatalf("alerts after enabling: got %d, want 1", got)
	}
}

func TestProxyLifecycleEvents(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender, 20)

	n.ProxyStarted(8317)
	n.ProxyStopped()
	n.ProxyCrashed(137)
	if got := sender.count(); got != 3 {
		t.Fatalf("lifecycle events: got %d sends, want 3", got)
	}
}
