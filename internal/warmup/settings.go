package warmup

import (
	"time"

	"github.com/quotio/quotio/internal/settings"
)

// Cadence is how often an interval-scheduled account is warmed.
type Cadence string

const (
	Cadence15Min Cadence = "15min"
	Cadence30Min Cadence = "30min"
	Cadence1Hour Cadence = "1h"
	Cadence2Hour Cadence = "2h"
	Cadence3Hour Cadence = "3h"
	Cadence4Hour Cadence = "4h"

	DefaultCadence = Cadence1Hour
)

var cadenceIntervals = map[Cadence]time.Duration{
	Cadence15Min: 15 * time.Minute,
	Cadence30Min: 30 * time.Minute,
	Cadence1Hour: time.Hour,
	Cadence2Hour: 2 * time.Hour,
	Cadence3Hour: 3 * time.Hour,
	Cadence4Hour: 4 * time.Hour,
}

// Interval returns the cadence's duration, falling back to the default for
// unrecognized values.
func (c Cadence) Interval() time.Duration {
	if d, ok := cadenceIntervals[c]; ok {
		return d
	}
	return cadenceIntervals[DefaultCadence]
}

// ScheduleMode selects between fixed-interval and once-a-day warmups.
type ScheduleMode string

const (
	ScheduleInterval ScheduleMode = "interval"
	ScheduleDaily    ScheduleMode = "daily"
)

// DefaultDailyMinutes is 09:00 as minutes after midnight.
const DefaultDailyMinutes = 9 * 60

// Settings is the warmup view over the settings store: which accounts are
// enabled, how often each runs, and which models each warms.
type Settings struct {
	store *settings.Store
}

// NewSettings wraps the store.
func NewSettings(store *settings.Store) *Settings {
	if store == nil {
		panic("warmup: NewSettings requires a store")
	}
	return &Settings{store: store}
}

// EnabledIDs returns the account IDs warmup is enabled for, minus any that
// were later excluded.
func (s *Settings) EnabledIDs() []string {
	excluded := map[string]struct{}{}
	for _, id := range s.store.GetStringSlice(settings.KeyWarmupExcludedAccounts) {
		excluded[id] = struct{}{}
	}
	var out []string
	for _, id := range s.store.GetStringSlice(settings.KeyWarmupEnabledAccounts) {
		if _, skip := excluded[id]; !skip {
			out = append(out, id)
		}
	}
	return out
}

// Enabled reports whether warmup is on for the account.
func (s *Settings) Enabled(k AccountKey) bool {
	id := k.ID()
	for _, enabled := range s.EnabledIDs() {
		if enabled == id {
			return true
		}
	}
	return false
}

// SetEnabled toggles warmup for the account. Enabling clears any exclusion;
// disabling removes the account from the enabled list outright.
func (s *Settings) SetEnabled(k AccountKey, enabled bool) error {
	id := k.ID()
	if enabled {
		if err := s.store.Set(settings.KeyWarmupExcludedAccounts,
			removeString(s.store.GetStringSlice(settings.KeyWarmupExcludedAccounts), id)); err != nil {
			return err
		}
		ids := s.store.GetStringSlice(settings.KeyWarmupEnabledAccounts)
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		return s.store.Set(settings.KeyWarmupEnabledAccounts, append(ids, id))
	}
	return s.store.Set(settings.KeyWarmupEnabledAccounts,
		removeString(s.store.GetStringSlice(settings.KeyWarmupEnabledAccounts), id))
}

// CadenceFor returns the account's cadence, falling back to the global one.
func (s *Settings) CadenceFor(k AccountKey) Cadence {
	var byAccount map[string]string
	if s.store.Get(settings.KeyWarmupCadenceByAccount, &byAccount) {
		if v, ok := byAccount[k.ID()]; ok && v != "" {
			return Cadence(v)
		}
	}
	return Cadence(s.store.GetString(settings.KeyWarmupCadence, string(DefaultCadence)))
}

// SetCadenceFor records a per-account cadence override.
func (s *Settings) SetCadenceFor(k AccountKey, c Cadence) error {
	byAccount := map[string]string{}
	s.store.Get(settings.KeyWarmupCadenceByAccount, &byAccount)
	byAccount[k.ID()] = string(c)
	return s.store.Set(settings.KeyWarmupCadenceByAccount, byAccount)
}

// SetCadence sets the global cadence.
func (s *Settings) SetCadence(c Cadence) error {
	return s.store.Set(settings.KeyWarmupCadence, string(c))
}

// ScheduleModeFor returns the account's schedule mode, falling back to the
// global one and then to interval mode.
func (s *Settings) ScheduleModeFor(k AccountKey) ScheduleMode {
	var byAccount map[string]string
	if s.store.Get(settings.KeyWarmupScheduleModeByAccount, &byAccount) {
		if v, ok := byAccount[k.ID()]; ok {
			if mode := ScheduleMode(v); mode == ScheduleDaily || mode == ScheduleInterval {
				return mode
			}
		}
	}
	mode := ScheduleMode(s.store.GetString(settings.KeyWarmupScheduleMode, string(ScheduleInterval)))
	if mode != ScheduleDaily {
		mode = ScheduleInterval
	}
	return mode
}

// SetScheduleModeFor records a per-account schedule mode override.
func (s *Settings) SetScheduleModeFor(k AccountKey, mode ScheduleMode) error {
	byAccount := map[string]string{}
	s.store.Get(settings.KeyWarmupScheduleModeByAccount, &byAccount)
	byAccount[k.ID()] = string(mode)
	return s.store.Set(settings.KeyWarmupScheduleModeByAccount, byAccount)
}

// DailyMinutesFor returns the account's daily run time as minutes after
// midnight, clamped to a valid time of day.
func (s *Settings) DailyMinutesFor(k AccountKey) int {
	minutes := s.store.GetInt(settings.KeyWarmupDailyMinutes, DefaultDailyMinutes)
	var byAccount map[string]int
	if s.store.Get(settings.KeyWarmupDailyMinutesByAccount, &byAccount) {
		if v, ok := byAccount[k.ID()]; ok {
			minutes = v
		}
	}
	return clampMinutes(minutes)
}

// SetDailyMinutesFor records a per-account daily run time.
func (s *Settings) SetDailyMinutesFor(k AccountKey, minutes int) error {
	byAccount := map[string]int{}
	s.store.Get(settings.KeyWarmupDailyMinutesByAccount, &byAccount)
	byAccount[k.ID()] = clampMinutes(minutes)
	return s.store.Set(settings.KeyWarmupDailyMinutesByAccount, byAccount)
}

// SelectedModels returns the models to warm for the account. Empty means
// warm everything the account offers.
func (s *Settings) SelectedModels(k AccountKey) []string {
	var byAccount map[string][]string
	if s.store.Get(settings.KeyWarmupSelectedModels, &byAccount) {
		return byAccount[k.ID()]
	}
	return nil
}

// SetSelectedModels replaces the account's model selection.
func (s *Settings) SetSelectedModels(k AccountKey, models []string) error {
	byAccount := map[string][]string{}
	s.store.Get(settings.KeyWarmupSelectedModels, &byAccount)
	if len(models) == 0 {
		delete(byAccount, k.ID())
	} else {
		byAccount[k.ID()] = models
	}
	return s.store.Set(settings.KeyWarmupSelectedModels, byAccount)
}

func clampMinutes(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > 23*60+59 {
		return 23*60 + 59
	}
	return minutes
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
