package install

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var errNoBinaryInArchive = errors.New("install: no binary found in archive")

// docSuffixes are archive members that are never the binary.
var docSuffixes = []string{".txt", ".md", ".sha256"}

func isDocFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range docSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// extractBinary unpacks the archive at archivePath into scratchDir and
// returns the path of the proxy binary inside it. Members with executable
// mode bits are preferred; if none is marked executable, the first
// non-documentation file wins. Raw (non-archive) assets are returned as-is.
func extractBinary(scratchDir, archivePath, assetName string) (string, error) {
	lower := strings.ToLower(assetName)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		if err := extractTarGz(scratchDir, archivePath); err != nil {
			return "", err
		}
	case strings.HasSuffix(lower, ".zip"):
		if err := extractZip(scratchDir, archivePath); err != nil {
			return "", err
		}
	default:
		// Asset is the binary itself.
		return archivePath, nil
	}
	return findBinary(scratchDir, archivePath)
}

// findBinary walks the extraction tree for the binary, preferring members
// with the executable bit set.
func findBinary(scratchDir, archivePath string) (string, error) {
	var executable, fallback string
	err := filepath.WalkDir(scratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == archivePath || isDocFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().Perm()&0o111 != 0 && executable == "" {
			executable = path
		}
		if fallback == "" {
			fallback = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("install: scan extracted files: %w", err)
	}
	if executable != "" {
		return executable, nil
	}
	if fallback != "" {
		// Zip archives drop mode bits; restore execute permission.
		if err := os.Chmod(fallback, 0o755); err != nil {
			return "", fmt.Errorf("install: chmod extracted binary: %w", err)
		}
		return fallback, nil
	}
	return "", errNoBinaryInArchive
}

// safeJoin resolves an archive member path inside dir, rejecting traversal.
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("install: archive member escapes extraction dir: %q", name)
	}
	return filepath.Join(dir, cleaned), nil
}

func extractTarGz(dir, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("install: open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("install: gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("install: tar: %w", err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("install: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("install: mkdir %s: %w", filepath.Dir(target), err)
			}
			mode := fs.FileMode(hdr.Mode).Perm()
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return fmt.Errorf("install: create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("install: extract %s: %w", hdr.Name, err)
			}
			out.Close()
		}
	}
}

func extractZip(dir, archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("install: zip: %w", err)
	}
	defer zr.Close()

	for _, member := range zr.File {
		target, err := safeJoin(dir, member.Name)
		if err != nil {
			return err
		}
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("install: mkdir %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("install: mkdir %s: %w", filepath.Dir(target), err)
		}
		rc, err := member.Open()
		if err != nil {
			return fmt.Errorf("install: open zip member %s: %w", member.Name, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, member.Mode().Perm()|0o600)
		if err != nil {
			rc.Close()
			return fmt.Errorf("install: create %s: %w", target, err)
		}
		if _, err := io.Copy(out, rc); err != nil {
			rc.Close()
			out.Close()
			return fmt.Errorf("install: extract %s: %w", member.Name, err)
		}
		rc.Close()
		out.Close()
	}
	return nil
}
