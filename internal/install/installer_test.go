package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/quotio/quotio/internal/netutil"
)

const testRepo = "router-for-me/CLIProxyAPIPlus"

type fakeDownloader struct {
	responses map[string][]byte
}

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return f.Get(ctx, url, nil)
}

func (f *fakeDownloader) Get(ctx context.Context, url string, _ http.Header) ([]byte, error) {
	body, ok := f.responses[url]
	if !ok {
		return nil, &netutil.HTTPStatusError{StatusCode: 404, URL: url}
	}
	return body, nil
}

func makeTarGz(t *testing.T, name string, content []byte, mode int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     mode,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fixture builds a release with one compatible tar.gz asset holding binary.
func fixture(t *testing.T, binary []byte, notes string, extraAssets ...releaseAsset) (*fakeDownloader, Config) {
	t.Helper()
	assetName := "CLIProxyAPIPlus_1.0.0_linux_amd64.tar.gz"
	assetURL := "https://dl.example/" + assetName
	archive := makeTarGz(t, "cli-proxy-api", binary, 0o755)

	assets := append([]releaseAsset{
		{Name: assetName, BrowserDownloadURL: assetURL},
		{Name: "CLIProxyAPIPlus_1.0.0_windows_amd64.zip", BrowserDownloadURL: "https://dl.example/win.zip"},
	}, extraAssets...)

	releaseJSON, err := json.Marshal(releaseInfo{TagName: "v1.0.0", Body: notes, Assets: assets})
	if err != nil {
		t.Fatal(err)
	}

	dl := &fakeDownloader{responses: map[string][]byte{
		"https://api.example/repos/" + testRepo + "/releases/latest": releaseJSON,
		assetURL: archive,
	}}
	cfg := Config{
		Downloader:     dl,
		ReleaseAPIHost: "https://api.example",
		Repo:           testRepo,
		BinaryPath:     filepath.Join(t.TempDir(), "cli-proxy-api"),
		GOOS:           "linux",
		GOARCH:         "amd64",
	}
	return dl, cfg
}

func validBinary() []byte {
	return bytes.Repeat([]byte("\x7fELF proxy "), 200)
}

func TestInstall_VerifiedFromReleaseNotes(t *testing.T) {
	binary := validBinary()
	_, cfg := fixture(t, binary, "Release notes.\nSHA256: "+digestOf(binary))
	inst := New(cfg)

	tag, err := inst.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if tag != "v1.0.0" {
		t.Errorf("tag: got %q", tag)
	}

	installed, err := os.ReadFile(cfg.BinaryPath)
	if err != nil {
		t.Fatalf("read installed binary: %v", err)
	}
	if !bytes.Equal(installed, binary) {
		t.Error("installed binary differs from archive member")
	}
	info, err := os.Stat(cfg.BinaryPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o750 {
		t.Errorf("binary permissions: got %o, want 750", perm)
	}
	if !inst.Installed() {
		t.Error("Installed should report true")
	}
}

func TestInstall_ChecksumFromCompanionAsset(t *testing.T) {
	// Publishers name checksum files after either the full archive name or
	// its extension-stripped base; all conventions must resolve.
	companions := []string{
		"CLIProxyAPIPlus_1.0.0_linux_amd64.tar.gz.sha256sum",
		"CLIProxyAPIPlus_1.0.0_linux_amd64.sha256",
		"CLIProxyAPIPlus_1.0.0_linux_amd64_sha256.txt",
		"sha256-CLIProxyAPIPlus_1.0.0_linux_amd64.txt",
	}
	for _, companion := range companions {
		t.Run(companion, func(t *testing.T) {
			binary := validBinary()
			companionURL := "https://dl.example/" + companion
			dl, cfg := fixture(t, binary, "no digest here", releaseAsset{
				Name:               companion,
				BrowserDownloadURL: companionURL,
			})
			dl.responses[companionURL] = []byte(digestOf(binary) + "  CLIProxyAPIPlus_1.0.0_linux_amd64.tar.gz\n")

			if _, err := New(cfg).Install(context.Background()); err != nil {
				t.Fatalf("Install: %v", err)
			}
		})
	}
}

func TestInstall_ChecksumUnavailableAborts(t *testing.T) {
	_, cfg := fixture(t, validBinary(), "no digest anywhere")
	// A pre-existing binary must survive the refused install.
	if err := os.WriteFile(cfg.BinaryPath, []byte("previous-install"), 0o750); err != nil {
		t.Fatal(err)
	}

	_, err := New(cfg).Install(context.Background())
	var unavailable *ChecksumUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ChecksumUnavailableError, got %v", err)
	}
	data, err := os.ReadFile(cfg.BinaryPath)
	if err != nil || string(data) != "previous-install" {
		t.Error("existing binary must be left untouched")
	}
}

func TestInstall_ChecksumMismatchLeavesPathUntouched(t *testing.T) {
	wrong := digestOf([]byte("something else"))
	_, cfg := fixture(t, validBinary(), "SHA256: "+wrong)
	if err := os.WriteFile(cfg.BinaryPath, []byte("previous-install"), 0o750); err != nil {
		t.Fatal(err)
	}

	_, err := New(cfg).Install(context.Background())
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChecksumMismatchError, got %v", err)
	}
	data, err := os.ReadFile(cfg.BinaryPath)
	if err != nil || string(data) != "previous-install" {
		t.Error("existing binary must be left untouched")
	}
}

func TestInstall_NoCompatibleAsset(t *testing.T) {
	releaseJSON, _ := json.Marshal(releaseInfo{
		TagName: "v1.0.0",
		Assets: []releaseAsset{
			{Name: "CLIProxyAPIPlus_1.0.0_windows_amd64.zip"},
			{Name: "CLIProxyAPIPlus_1.0.0_linux_amd64_checksums.txt"},
		},
	})
	dl := &fakeDownloader{responses: map[string][]byte{
		"https://api.example/repos/" + testRepo + "/releases/latest": releaseJSON,
	}}
	inst := New(Config{
		Downloader:     dl,
		ReleaseAPIHost: "https://api.example",
		Repo:           testRepo,
		BinaryPath:     filepath.Join(t.TempDir(), "cli-proxy-api"),
		GOOS:           "linux",
		GOARCH:         "amd64",
	})

	_, err := inst.Install(context.Background())
	var noAsset *NoCompatibleBinaryError
	if !errors.As(err, &noAsset) {
		t.Fatalf("expected NoCompatibleBinaryError, got %v", err)
	}
}

func TestInstall_TinyBinaryRejected(t *testing.T) {
	tiny := []byte("#!/bin/sh\n")
	_, cfg := fixture(t, tiny, "SHA256: "+digestOf(tiny))

	_, err := New(cfg).Install(context.Background())
	var corrupt *CorruptBinaryError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptBinaryError, got %v", err)
	}
}

func TestInstall_NetworkErrorWrapped(t *testing.T) {
	dl := &fakeDownloader{responses: map[string][]byte{}}
	inst := New(Config{
		Downloader:     dl,
		ReleaseAPIHost: "https://api.example",
		Repo:           testRepo,
		BinaryPath:     filepath.Join(t.TempDir(), "cli-proxy-api"),
		GOOS:           "linux",
		GOARCH:         "amd64",
	})

	_, err := inst.Install(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestChecksumFromNotes_Formats(t *testing.T) {
	digest := digestOf([]byte("x"))
	cases := []string{
		"SHA256: " + digest,
		"sha256: " + digest,
		"SHA-256: " + digest,
		fmt.Sprintf("%s  CLIProxyAPIPlus_1.0.0_linux_amd64.tar.gz\n", digest),
	}
	for _, notes := range cases {
		if got := checksumFromNotes(notes); got != digest {
			t.Errorf("checksumFromNotes(%q) = %q, want %q", notes, got, digest)
		}
	}
	if got := checksumFromNotes("nothing to see"); got != "" {
		t.Errorf("expected empty digest, got %q", got)
	}
}
