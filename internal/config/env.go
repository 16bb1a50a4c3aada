// Package config handles environment-based configuration loading and shared
// config value types.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	DataDir string // binary, config.yaml, management key, usage.db
	AuthDir string // proxy auth files (OAuth tokens)

	// Proxy
	ProxyPort      int
	ReleaseRepo    string // owner/repo on the release host
	ReleaseAPIHost string

	// Timeouts
	DownloadTimeout     time.Duration
	ProbeTimeout        time.Duration
	StartupPollInterval time.Duration
	StartupTimeout      time.Duration

	// Quota refresh
	QuotaAlertThreshold  float64
	AutoRefreshInterval  time.Duration
	UsagePollMinInterval time.Duration
	UsagePollJitter      time.Duration

	// Warmup
	WarmupModelCacheTTL     time.Duration
	WarmupModelCacheEntries int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.DataDir = envStr("QUOTIO_DATA_DIR", defaultDataDir())
	cfg.AuthDir = envStr("QUOTIO_AUTH_DIR", defaultAuthDir())

	// --- Proxy ---
	cfg.ProxyPort = envInt("QUOTIO_PORT", 8317, &errs)
	cfg.ReleaseRepo = envStr("QUOTIO_RELEASE_REPO", "router-for-me/CLIProxyAPIPlus")
	cfg.ReleaseAPIHost = envStr("QUOTIO_RELEASE_API_HOST", "https://api.github.com")

	// --- Timeouts ---
	cfg.DownloadTimeout = envDuration("QUOTIO_DOWNLOAD_TIMEOUT", 120*time.Second, &errs)
	cfg.ProbeTimeout = envDuration("QUOTIO_PROBE_TIMEOUT", 500*time.Millisecond, &errs)
	cfg.StartupPollInterval = envDuration("QUOTIO_STARTUP_POLL_INTERVAL", 500*time.Millisecond, &errs)
	cfg.StartupTimeout = envDuration("QUOTIO_STARTUP_TIMEOUT", 3*time.Second, &errs)

	// --- Quota refresh ---
	cfg.QuotaAlertThreshold = envFloat("QUOTIO_QUOTA_ALERT_THRESHOLD", 20.0, &errs)
	cfg.AutoRefreshInterval = envDuration("QUOTIO_AUTO_REFRESH_INTERVAL", 5*time.Minute, &errs)
	cfg.UsagePollMinInterval = envDuration("QUOTIO_USAGE_POLL_MIN_INTERVAL", 30*time.Second, &errs)
	cfg.UsagePollJitter = envDuration("QUOTIO_USAGE_POLL_JITTER", 10*time.Second, &errs)

	// --- Warmup ---
	cfg.WarmupModelCacheTTL = envDuration("QUOTIO_WARMUP_MODEL_CACHE_TTL", 8*time.Hour, &errs)
	cfg.WarmupModelCacheEntries = envInt("QUOTIO_WARMUP_MODEL_CACHE_ENTRIES", 64, &errs)

	// --- Validation ---
	if cfg.DataDir == "" {
		errs = append(errs, "QUOTIO_DATA_DIR must not be empty")
	}
	if cfg.AuthDir == "" {
		errs = append(errs, "QUOTIO_AUTH_DIR must not be empty")
	}
	validatePort("QUOTIO_PORT", cfg.ProxyPort, &errs)
	if !strings.Contains(cfg.ReleaseRepo, "/") {
		errs = append(errs, fmt.Sprintf("QUOTIO_RELEASE_REPO: expected owner/repo, got %q", cfg.ReleaseRepo))
	}
	if !strings.HasPrefix(cfg.ReleaseAPIHost, "https://") {
		errs = append(errs, fmt.Sprintf("QUOTIO_RELEASE_API_HOST: must be an https URL, got %q", cfg.ReleaseAPIHost))
	}
	validatePositiveDuration("QUOTIO_DOWNLOAD_TIMEOUT", cfg.DownloadTimeout, &errs)
	validatePositiveDuration("QUOTIO_PROBE_TIMEOUT", cfg.ProbeTimeout, &errs)
	validatePositiveDuration("QUOTIO_STARTUP_POLL_INTERVAL", cfg.StartupPollInterval, &errs)
	validatePositiveDuration("QUOTIO_STARTUP_TIMEOUT", cfg.StartupTimeout, &errs)
	if cfg.StartupTimeout < cfg.StartupPollInterval {
		errs = append(errs, "QUOTIO_STARTUP_TIMEOUT must be at least QUOTIO_STARTUP_POLL_INTERVAL")
	}
	if cfg.QuotaAlertThreshold < 0 || cfg.QuotaAlertThreshold > 100 {
		errs = append(errs, fmt.Sprintf("QUOTIO_QUOTA_ALERT_THRESHOLD: must be within [0,100], got %g", cfg.QuotaAlertThreshold))
	}
	validatePositiveDuration("QUOTIO_AUTO_REFRESH_INTERVAL", cfg.AutoRefreshInterval, &errs)
	validatePositiveDuration("QUOTIO_USAGE_POLL_MIN_INTERVAL", cfg.UsagePollMinInterval, &errs)
	if cfg.UsagePollJitter < 0 {
		errs = append(errs, "QUOTIO_USAGE_POLL_JITTER must not be negative")
	}
	validatePositiveDuration("QUOTIO_WARMUP_MODEL_CACHE_TTL", cfg.WarmupModelCacheTTL, &errs)
	validatePositive("QUOTIO_WARMUP_MODEL_CACHE_ENTRIES", cfg.WarmupModelCacheEntries, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// defaultDataDir resolves the per-user application data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".quotio")
}

func defaultAuthDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cli-proxy-api")
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %s", name, value))
	}
}
