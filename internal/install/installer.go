// Package install downloads, verifies, and installs the proxy binary from
// its release feed. Verification is mandatory: a release without a
// resolvable SHA-256 digest is never installed.
package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/quotio/quotio/internal/netutil"
)

// DefaultReleaseAPIHost is the release API endpoint host.
const DefaultReleaseAPIHost = "https://api.github.com"

// minBinarySize is the size sanity floor: anything smaller than this is an
// error page or truncated download, not a binary.
const minBinarySize = 1000

// Config wires an Installer.
type Config struct {
	Downloader     netutil.Downloader
	ReleaseAPIHost string // default DefaultReleaseAPIHost
	Repo           string // "owner/name"
	BinaryPath     string // final install path
	// GOOS/GOARCH override the host platform, for tests.
	GOOS   string
	GOARCH string
}

// Installer installs and updates the proxy binary. Install calls are
// serialized; the binary at BinaryPath is only ever replaced atomically
// after the downloaded artifact passes checksum verification.
type Installer struct {
	downloader netutil.Downloader
	apiHost    string
	repo       string
	binaryPath string
	goos       string
	goarch     string

	mu sync.Mutex
}

// New creates an Installer from cfg.
func New(cfg Config) *Installer {
	if cfg.Downloader == nil {
		panic("install: New requires non-nil Downloader")
	}
	if cfg.Repo == "" || cfg.BinaryPath == "" {
		panic("install: New requires Repo and BinaryPath")
	}
	if cfg.ReleaseAPIHost == "" {
		cfg.ReleaseAPIHost = DefaultReleaseAPIHost
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.GOARCH == "" {
		cfg.GOARCH = runtime.GOARCH
	}
	return &Installer{
		downloader: cfg.Downloader,
		apiHost:    cfg.ReleaseAPIHost,
		repo:       cfg.Repo,
		binaryPath: cfg.BinaryPath,
		goos:       cfg.GOOS,
		goarch:     cfg.GOARCH,
	}
}

// BinaryPath returns the install destination.
func (i *Installer) BinaryPath() string { return i.binaryPath }

// Installed reports whether an executable binary exists at the install path.
func (i *Installer) Installed() bool {
	info, err := os.Stat(i.binaryPath)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o100 != 0
}

// Install downloads the latest release, verifies it, and atomically places
// the binary at BinaryPath. Returns the release tag installed. On any
// verification failure the existing binary is left untouched.
func (i *Installer) Install(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	release, err := i.fetchLatestRelease(ctx)
	if err != nil {
		return "", err
	}

	asset := selectAsset(release, i.repo, i.goos, i.goarch)
	if asset == nil {
		return "", &NoCompatibleBinaryError{OS: i.goos, Arch: i.goarch, Release: release.TagName}
	}

	expected, err := i.resolveChecksum(ctx, release, asset)
	if err != nil {
		return "", err
	}

	log.Printf("[install] downloading %s from release %s", asset.Name, release.TagName)
	archiveData, err := i.downloader.Download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return "", &NetworkError{Op: "download " + asset.Name, Err: err}
	}

	scratchDir, err := os.MkdirTemp("", "quotio-install-*")
	if err != nil {
		return "", fmt.Errorf("install: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	archivePath := filepath.Join(scratchDir, asset.Name)
	if err := os.WriteFile(archivePath, archiveData, 0o600); err != nil {
		return "", fmt.Errorf("install: write archive: %w", err)
	}

	binaryPath, err := extractBinary(scratchDir, archivePath, asset.Name)
	if err != nil {
		return "", err
	}
	binaryData, err := os.ReadFile(binaryPath)
	if err != nil {
		return "", fmt.Errorf("install: read extracted binary: %w", err)
	}
	if int64(len(binaryData)) < minBinarySize {
		return "", &CorruptBinaryError{Size: int64(len(binaryData))}
	}

	sum := sha256.Sum256(binaryData)
	actual := hex.EncodeToString(sum[:])
	if !strings.EqualFold(actual, expected) {
		return "", &ChecksumMismatchError{Expected: strings.ToLower(expected), Actual: actual}
	}

	if err := i.placeBinary(binaryData); err != nil {
		return "", err
	}
	log.Printf("[install] installed %s %s to %s", asset.Name, release.TagName, i.binaryPath)
	return release.TagName, nil
}

// placeBinary writes the verified binary next to its destination and swaps
// it in with an atomic rename. 0750: executable by owner and group, never
// world-accessible.
func (i *Installer) placeBinary(data []byte) error {
	dir := filepath.Dir(i.binaryPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("install: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(i.binaryPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("install: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("install: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("install: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o750); err != nil {
		return fmt.Errorf("install: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, i.binaryPath); err != nil {
		return fmt.Errorf("install: atomic replace: %w", err)
	}
	return nil
}

func (i *Installer) fetchLatestRelease(ctx context.Context) (*releaseInfo, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", i.apiHost, i.repo)
	header := http.Header{"Accept": []string{"application/vnd.github+json"}}
	body, err := i.downloader.Get(ctx, url, header)
	if err != nil {
		return nil, &NetworkError{Op: "fetch release metadata", Err: err}
	}
	var release releaseInfo
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("install: parse release metadata: %w", err)
	}
	return &release, nil
}

// resolveChecksum finds the asset's SHA-256 digest in the release notes
// first, then in a checksum companion asset. A release publishing neither
// cannot be verified and is rejected.
func (i *Installer) resolveChecksum(ctx context.Context, release *releaseInfo, asset *releaseAsset) (string, error) {
	if digest := checksumFromNotes(release.Body); digest != "" {
		return digest, nil
	}

	if companion := checksumAssetFor(release.Assets, asset.Name); companion != nil {
		body, err := i.downloader.Download(ctx, companion.BrowserDownloadURL)
		if err != nil {
			return "", &NetworkError{Op: "download checksum " + companion.Name, Err: err}
		}
		if digest := checksumFromFile(string(body)); digest != "" {
			return digest, nil
		}
	}

	return "", &ChecksumUnavailableError{Release: release.TagName, Asset: asset.Name}
}
