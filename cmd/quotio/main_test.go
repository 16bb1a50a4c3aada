package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/quotio/quotio/internal/config"
	"github.com/quotio/quotio/internal/install"
	"github.com/quotio/quotio/internal/settings"
	"github.com/quotio/quotio/internal/supervise"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitFailure},
		{"port conflict", &supervise.PortConflictError{Port: 8317}, exitPortConflict},
		{"wrapped port conflict", errors.Join(errors.New("start"), &supervise.PortConflictError{Port: 8317}), exitPortConflict},
		{"checksum missing", &install.ChecksumUnavailableError{Release: "v1.0.0"}, exitChecksum},
		{"checksum mismatch", &install.ChecksumMismatchError{Expected: "aa", Actual: "bb"}, exitChecksum},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestEffectivePort(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	envCfg := &config.EnvConfig{ProxyPort: 8317}

	if got := effectivePort(store, envCfg, 0); got != 8317 {
		t.Errorf("env fallback: got %d", got)
	}
	if err := store.Set(settings.KeyProxyPort, 9000); err != nil {
		t.Fatal(err)
	}
	if got := effectivePort(store, envCfg, 0); got != 9000 {
		t.Errorf("saved setting: got %d", got)
	}
	if got := effectivePort(store, envCfg, 9999); got != 9999 {
		t.Errorf("flag override: got %d", got)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if got := run([]string{"frobnicate"}); got != exitFailure {
		t.Errorf("unknown command: got exit %d", got)
	}
	if got := run(nil); got != exitFailure {
		t.Errorf("no command: got exit %d", got)
	}
	if got := run([]string{"help"}); got != exitOK {
		t.Errorf("help: got exit %d", got)
	}
	if got := run([]string{"version"}); got != exitOK {
		t.Errorf("version: got exit %d", got)
	}
}
