// Package settings persists user preferences as a JSON key-value file.
// Every Set writes through to disk; values are loaded once at construction.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keys persisted in settings.json. Kept in one place so callers don't
// scatter string literals.
const (
	KeyProxyPort            = "proxyPort"
	KeyAutoRefreshEnabled   = "autoRefreshEnabled"
	KeyAutoRefreshMinutes   = "autoRefreshIntervalMinutes"
	KeyNotificationsEnabled = "notificationsEnabled"
	KeyNotifyOnQuotaLow     = "notifyOnQuotaLow"
	KeyQuotaAlertThreshold  = "quotaAlertThreshold"

	KeyWarmupEnabledAccounts       = "warmupEnabledAccounts"
	KeyWarmupExcludedAccounts      = "warmupExcludedAccounts"
	KeyWarmupCadence               = "warmupCadence"
	KeyWarmupCadenceByAccount      = "warmupCadenceByAccount"
	KeyWarmupScheduleMode          = "warmupScheduleMode"
	KeyWarmupScheduleModeByAccount = "warmupScheduleModeByAccount"
	KeyWarmupDailyMinutes          = "warmupDailyMinutes"
	KeyWarmupDailyMinutesByAccount = "warmupDailyMinutesByAccount"
	KeyWarmupSelectedModels        = "warmupSelectedModels"
)

// Store is a JSON-file-backed settings store. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	vals map[string]json.RawMessage
}

// Open loads (or initializes) the settings file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, vals: map[string]json.RawMessage{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.vals); err != nil {
		// A corrupt settings file is not fatal: start fresh rather than
		// blocking the whole application.
		s.vals = map[string]json.RawMessage{}
	}
	return s, nil
}

// Get decodes the value stored under key into out. Returns false if the key
// is absent or cannot be decoded into out's type.
func (s *Store) Get(key string, out any) bool {
	s.mu.Lock()
	raw, ok := s.vals[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Set stores the value under key and writes the file through to disk.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = raw
	return s.saveLocked()
}

// Delete removes key and writes the file through to disk.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vals[key]; !ok {
		return nil
	}
	delete(s.vals, key)
	return s.saveLocked()
}

// GetBool returns the boolean under key, or def when absent.
func (s *Store) GetBool(key string, def bool) bool {
	var v bool
	if s.Get(key, &v) {
		return v
	}
	return def
}

// GetInt returns the integer under key, or def when absent.
func (s *Store) GetInt(key string, def int) int {
	var v int
	if s.Get(key, &v) {
		return v
	}
	return def
}

// GetFloat returns the float under key, or def when absent.
func (s *Store) GetFloat(key string, def float64) float64 {
	var v float64
	if s.Get(key, &v) {
		return v
	}
	return def
}

// GetString returns the string under key, or def when absent.
func (s *Store) GetString(key, def string) string {
	var v string
	if s.Get(key, &v) {
		return v
	}
	return def
}

// GetStringSlice returns the string slice under key, or nil when absent.
func (s *Store) GetStringSlice(key string) []string {
	var v []string
	if s.Get(key, &v) {
		return v
	}
	return nil
}

// saveLocked writes the settings file with owner-only permissions. The file
// may carry OAuth-adjacent preferences, so it is never world-readable.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.vals, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return os.Chmod(s.path, 0o600)
}
