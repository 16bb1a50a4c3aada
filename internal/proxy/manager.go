// Package proxy is the facade over the proxy binary's lifecycle: install
// location, config.yaml, management secret, and process supervision.
package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/quotio/quotio/internal/config"
	"github.com/quotio/quotio/internal/install"
	"github.com/quotio/quotio/internal/netutil"
	"github.com/quotio/quotio/internal/supervise"
)

// binaryName is the proxy executable's file name inside the data dir.
const binaryName = "CLIProxyAPI"

const respondTimeout = 5 * time.Second

// allowedAuthCommands is the whitelist of subcommands the proxy binary may
// be invoked with on behalf of the user. Anything else is rejected before
// reaching exec.
var allowedAuthCommands = map[string]struct{}{
	"copilot-login":     {},
	"kiro-google-login": {},
	"kiro-aws-login":    {},
	"kiro-import":       {},
}

// LifecycleNotifier receives proxy lifecycle events. notify.Notifier
// satisfies it.
type LifecycleNotifier interface {
	ProxyStarted(port int)
	ProxyStopped()
	ProxyCrashed(exitCode int)
}

// Status is a point-in-time view of the managed proxy.
type Status struct {
	Running   bool
	Adopted   bool
	Installed bool
	Port      int
	LastError string
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	DataDir        string
	AuthDir        string
	Port           int
	ReleaseRepo    string
	ReleaseAPIHost string
	Downloader     netutil.Downloader
	Notifier       LifecycleNotifier // optional

	ProbeTimeout        time.Duration
	StartupPollInterval time.Duration
	StartupTimeout      time.Duration
}

// Manager owns the proxy installation and process for one data directory.
type Manager struct {
	dataDir    string
	authDir    string
	binaryPath string
	configPath string
	secret     string

	installer  *install.Installer
	supervisor *supervise.Supervisor
	notifier   LifecycleNotifier
	httpClient *http.Client

	mu        sync.Mutex
	port      int
	lastError string
}

// NewManager prepares the data directory, loads or generates the management
// secret, ensures config.yaml exists, and wires the supervisor. It does not
// install or start anything.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Downloader == nil {
		return nil, fmt.Errorf("proxy: ManagerConfig requires a Downloader")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("proxy: create data dir: %w", err)
	}
	if err := os.Chmod(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("proxy: chmod data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.AuthDir, 0o700); err != nil {
		return nil, fmt.Errorf("proxy: create auth dir: %w", err)
	}

	m := &Manager{
		dataDir:    cfg.DataDir,
		authDir:    cfg.AuthDir,
		binaryPath: filepath.Join(cfg.DataDir, binaryName),
		configPath: filepath.Join(cfg.DataDir, "config.yaml"),
		notifier:   cfg.Notifier,
		httpClient: &http.Client{},
		port:       cfg.Port,
	}

	secret, err := loadOrCreateSecret(filepath.Join(cfg.DataDir, "management_key.txt"))
	if err != nil {
		return nil, err
	}
	m.secret = secret
	if config.IsWeakSecret(secret) {
		log.Printf("[proxy] management secret is weak; consider deleting management_key.txt to regenerate")
	}

	initialKey := "quotio-local-" + uuid.NewString()
	if err := ensureConfigFile(m.configPath, cfg.Port, cfg.AuthDir, secret, initialKey); err != nil {
		return nil, err
	}

	m.installer = install.New(install.Config{
		Downloader:     cfg.Downloader,
		ReleaseAPIHost: cfg.ReleaseAPIHost,
		Repo:           cfg.ReleaseRepo,
		BinaryPath:     m.binaryPath,
	})
	m.supervisor = supervise.New(supervise.Config{
		Responding:          m.CheckResponding,
		OnExit:              m.handleCrash,
		ProbeTimeout:        cfg.ProbeTimeout,
		StartupPollInterval: cfg.StartupPollInterval,
		StartupTimeout:      cfg.StartupTimeout,
	})
	return m, nil
}

// loadOrCreateSecret reads the management secret keyfile, generating a new
// uuid-based secret on first run. The file is owner-only.
func loadOrCreateSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("proxy: read secret: %w", err)
	}

	secret := uuid.NewString()
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("proxy: write secret: %w", err)
	}
	return secret, nil
}

// Port returns the configured proxy port.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// SetPort updates the port in config.yaml and the in-memory state. The
// change applies on the next proxy start.
func (m *Manager) SetPort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("proxy: port %d out of range [1024, 65535]", port)
	}
	if err := updateConfigValue(m.configPath, "port", port); err != nil {
		return err
	}
	m.mu.Lock()
	m.port = port
	m.mu.Unlock()
	return nil
}

// BaseURL is the client-facing proxy endpoint.
func (m *Manager) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", m.Port())
}

// ManagementURL is the root of the proxy's management API.
func (m *Manager) ManagementURL() string {
	return m.BaseURL() + "/v0/management"
}

// Secret returns the management API secret.
func (m *Manager) Secret() string { return m.secret }

// BinaryPath returns the proxy executable path.
func (m *Manager) BinaryPath() string { return m.binaryPath }

// ConfigPath returns the config.yaml path.
func (m *Manager) ConfigPath() string { return m.configPath }

// Installed reports whether the proxy binary is present and executable.
func (m *Manager) Installed() bool { return m.installer.Installed() }

// Install downloads and installs the latest proxy binary.
func (m *Manager) Install(ctx context.Context) (string, error) {
	tag, err := m.installer.Install(ctx)
	if err != nil {
		m.setLastError(err.Error())
	}
	return tag, err
}

// CheckResponding probes whether the process on the proxy port is our proxy
// by hitting the management API with the expected secret.
func (m *Manager) CheckResponding(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, respondTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ManagementURL()+"/auth-files", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+m.secret)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start brings the proxy up, installing the binary first when missing.
func (m *Manager) Start(ctx context.Context) error {
	if !m.installer.Installed() {
		if _, err := m.Install(ctx); err != nil {
			return err
		}
	}

	err := m.supervisor.Start(ctx, m.binaryPath, m.configPath, m.Port())
	if err != nil {
		m.setLastError(err.Error())
		return err
	}
	m.setLastError("")
	if m.notifier != nil {
		m.notifier.ProxyStarted(m.Port())
	}
	return nil
}

// Stop tears the proxy down.
func (m *Manager) Stop() {
	wasRunning := m.supervisor.Running()
	m.supervisor.Stop()
	if wasRunning && m.notifier != nil {
		m.notifier.ProxyStopped()
	}
}

// CancelStartup aborts an in-flight Start.
func (m *Manager) CancelStartup() {
	m.supervisor.CancelStartup()
	m.setLastError("startup cancelled")
}

// Status reports the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	lastError := m.lastError
	port := m.port
	m.mu.Unlock()
	return Status{
		Running:   m.supervisor.Running(),
		Adopted:   m.supervisor.Adopted(),
		Installed: m.installer.Installed(),
		Port:      port,
		LastError: lastError,
	}
}

// SetProxyURL sets the upstream proxy URL in config.yaml.
func (m *Manager) SetProxyURL(url string) error {
	return updateConfigValue(m.configPath, "proxy-url", url)
}

// APIKeys reads the api-keys list from config.yaml.
func (m *Manager) APIKeys() ([]string, error) {
	var keys []string
	if err := readConfigValue(m.configPath, "api-keys", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// SetAPIKeys replaces the api-keys list. Keys travel in Authorization
// headers, so each must be a valid header value.
func (m *Manager) SetAPIKeys(keys []string) error {
	for _, key := range keys {
		if key == "" || !httpguts.ValidHeaderFieldValue(key) {
			return fmt.Errorf("proxy: invalid api key %q", key)
		}
	}
	return updateConfigValue(m.configPath, "api-keys", keys)
}

// RunAuthCommand executes a whitelisted login subcommand of the proxy
// binary and returns its combined output.
func (m *Manager) RunAuthCommand(ctx context.Context, command string) (string, error) {
	if _, ok := allowedAuthCommands[command]; !ok {
		return "", fmt.Errorf("proxy: auth command %q is not allowed", command)
	}
	if !m.installer.Installed() {
		return "", fmt.Errorf("proxy: binary not installed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	out, err := exec.CommandContext(ctx, m.binaryPath, command).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("proxy: %s: %w", command, err)
	}
	return string(out), nil
}

func (m *Manager) handleCrash(exitCode int) {
	m.setLastError(fmt.Sprintf("proxy exited unexpectedly with code %d", exitCode))
	if m.notifier != nil {
		m.notifier.ProxyCrashed(exitCode)
	}
}

func (m *Manager) setLastError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}
