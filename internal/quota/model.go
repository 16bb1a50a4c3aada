// Package quota holds per-account quota snapshots and the refresh pipeline
// that keeps them current.
package quota

import "time"

// PercentUnknown marks a model whose remaining percentage could not be
// determined. Unknown percentages never trigger low-quota alerts.
const PercentUnknown = -1

// ModelQuota is the remaining quota for one model on one account.
// Percentage is in [0, 100] or PercentUnknown. Used/Limit/Remaining are nil
// when the provider does not report absolute counts.
type ModelQuota struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Used       *int64  `json:"used,omitempty"`
	Limit      *int64  `json:"limit,omitempty"`
	Remaining  *int64  `json:"remaining,omitempty"`
	ResetTime  string  `json:"resetTime,omitempty"`
}

// PercentKnown reports whether Percentage carries a real value.
func (m ModelQuota) PercentKnown() bool {
	return m.Percentage >= 0 && m.Percentage <= 100
}

// AccountQuota is the full quota snapshot for one provider account.
//
// QuotaCapable distinguishes credentials that are valid for routing but
// cannot report quota numbers (an OpenAI-style API key on Codex, for
// example) from credentials whose quota simply failed to load. Fetchers set
// it explicitly rather than callers inferring it from empty Models.
type AccountQuota struct {
	Models             []ModelQuota `json:"models"`
	AccountEmail       string       `json:"accountEmail,omitempty"`
	AccountName        string       `json:"accountName,omitempty"`
	PlanType           string       `json:"planType,omitempty"`
	SubscriptionStatus string       `json:"subscriptionStatus,omitempty"`
	OrganizationName   string       `json:"organizationName,omitempty"`
	QuotaCapable       bool         `json:"quotaCapable"`
	LastUpdated        time.Time    `json:"lastUpdated"`
}

// LowestPercentage returns the smallest known model percentage, or
// (PercentUnknown, false) when no model reports one.
func (a *AccountQuota) LowestPercentage() (float64, bool) {
	lowest := float64(PercentUnknown)
	found := false
	for _, m := range a.Models {
		if !m.PercentKnown() {
			continue
		}
		if !found || m.Percentage < lowest {
			lowest = m.Percentage
			found = true
		}
	}
	return lowest, found
}

// DisplayName returns the best user-facing label for the account.
func (a *AccountQuota) DisplayName() string {
	if a.AccountName != "" {
		return a.AccountName
	}
	return a.AccountEmail
}
