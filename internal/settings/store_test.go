package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_SetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set(KeyProxyPort, 9100); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(KeyWarmupEnabledAccounts, []string{"antigravity::a@b.com"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Reopen and verify persistence.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.GetInt(KeyProxyPort, 0); got != 9100 {
		t.Errorf("proxyPort: got %d, want 9100", got)
	}
	accounts := s2.GetStringSlice(KeyWarmupEnabledAccounts)
	if len(accounts) != 1 || accounts[0] != "antigravity::a@b.com" {
		t.Errorf("warmupEnabledAccounts: got %v", accounts)
	}
}

func TestStore_DefaultsWhenAbsent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.GetBool(KeyNotificationsEnabled, true); !got {
		t.Error("absent bool should fall back to default true")
	}
	if got := s.GetFloat(KeyQuotaAlertThreshold, 20.0); got != 20.0 {
		t.Errorf("absent float: got %g, want 20", got)
	}
}

func TestStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(KeyNotifyOnQuotaLow, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("settings file permissions: got %o, want 600", perm)
	}
}

func TestStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open should tolerate corrupt file: %v", err)
	}
	if got := s.GetInt(KeyProxyPort, 8317); got != 8317 {
		t.Errorf("corrupt file should yield defaults, got %d", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(KeyWarmupCadence, "1h"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(KeyWarmupCadence); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.GetString(KeyWarmupCadence, "none"); got != "none" {
		t.Errorf("deleted key should be absent, got %q", got)
	}
}
