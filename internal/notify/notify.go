// Package notify raises desktop notifications for quota and proxy lifecycle
// events, with per-event dedup so a low account alerts once per episode.
package notify

import (
	"fmt"
	"log"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/quotio/quotio/internal/provider"
	"github.com/quotio/quotio/internal/quota"
)

// Sender delivers one notification to the user.
type Sender interface {
	Send(title, body string) error
}

// Config wires a Notifier. The callbacks re-read user settings on every
// event so toggles apply immediately.
type Config struct {
	Sender Sender
	// EnabledFn gates all notifications.
	EnabledFn func() bool
	// QuotaLowEnabledFn gates low-quota alerts specifically.
	QuotaLowEnabledFn func() bool
	// ThresholdFn returns the low-quota percentage threshold.
	ThresholdFn func() float64
}

// Notifier checks quota snapshots against the alert threshold and sends
// proxy lifecycle notifications. Safe for concurrent use.
type Notifier struct {
	sender            Sender
	enabledFn         func() bool
	quotaLowEnabledFn func() bool
	thresholdFn       func() float64

	// sent holds xxh3 hashes of dedup keys for alerts already delivered.
	sent *xsync.Map[uint64, struct{}]
}

// New creates a Notifier from cfg.
func New(cfg Config) *Notifier {
	if cfg.Sender == nil {
		panic("notify: New requires non-nil Sender")
	}
	if cfg.EnabledFn == nil || cfg.QuotaLowEnabledFn == nil || cfg.ThresholdFn == nil {
		panic("notify: New requires non-nil settings callbacks")
	}
	return &Notifier{
		sender:            cfg.Sender,
		enabledFn:         cfg.EnabledFn,
		quotaLowEnabledFn: cfg.QuotaLowEnabledFn,
		thresholdFn:       cfg.ThresholdFn,
		sent:              xsync.NewMap[uint64, struct{}](),
	}
}

func quotaLowKey(p provider.Provider, accountKey string) uint64 {
	return xxh3.HashString("quota_low_" + string(p) + "_" + accountKey)
}

// CheckQuota evaluates a fresh provider snapshot against the threshold.
// Accounts at or below the threshold alert once; recovering above the
// threshold re-arms the alert. Unknown percentages never alert.
func (n *Notifier) CheckQuota(p provider.Provider, accounts map[string]*quota.AccountQuota) {
	threshold := n.thresholdFn()
	for key, account := range accounts {
		pct, known := account.LowestPercentage()
		if !known {
			continue
		}
		if pct > threshold {
			n.ClearQuotaLow(p, key)
			continue
		}
		if !n.enabledFn() || !n.quotaLowEnabledFn() {
			continue
		}
		if _, already := n.sent.LoadOrStore(quotaLowKey(p, key), struct{}{}); already {
			continue
		}
		title := fmt.Sprintf("%s quota low", p.DisplayName())
		body := fmt.Sprintf("%s is at %.0f%% remaining", account.DisplayName(), pct)
		n.deliver(title, body)
	}
}

// ClearQuotaLow re-arms the low-quota alert for one account, so the next
// drop below the threshold notifies again.
func (n *Notifier) ClearQuotaLow(p provider.Provider, accountKey string) {
	n.sent.Delete(quotaLowKey(p, accountKey))
}

// ProxyStarted announces a successful proxy start.
func (n *Notifier) ProxyStarted(port int) {
	if !n.enabledFn() {
		return
	}
	n.deliver("Proxy started", fmt.Sprintf("Listening on port %d", port))
}

// ProxyStopped announces a clean proxy stop.
func (n *Notifier) ProxyStopped() {
	if !n.enabledFn() {
		return
	}
	n.deliver("Proxy stopped", "The proxy process has been stopped")
}

// ProxyCrashed announces an unexpected proxy exit.
func (n *Notifier) ProxyCrashed(exitCode int) {
	if !n.enabledFn() {
		return
	}
	n.deliver("Proxy crashed", fmt.Sprintf("The proxy process exited with code %d", exitCode))
}

func (n *Notifier) deliver(title, body string) {
	if err := n.sender.Send(title, body); err != nil {
		log.Printf("[notify] send failed: %v", err)
	}
}
