package install

import "fmt"

// NetworkError indicates the release API or asset download failed at the
// transport level.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("install: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NoCompatibleBinaryError indicates the release carries no asset for this
// OS/architecture.
type NoCompatibleBinaryError struct {
	OS      string
	Arch    string
	Release string
}

func (e *NoCompatibleBinaryError) Error() string {
	return fmt.Sprintf("install: release %s has no binary for %s/%s", e.Release, e.OS, e.Arch)
}

// ChecksumUnavailableError indicates no SHA-256 digest could be resolved for
// the selected asset. Installation refuses to proceed without one.
type ChecksumUnavailableError struct {
	Release string
	Asset   string
}

func (e *ChecksumUnavailableError) Error() string {
	return fmt.Sprintf("install: no sha256 checksum found for %s in release %s; refusing to install unverified binary", e.Asset, e.Release)
}

// ChecksumMismatchError indicates the downloaded binary does not match the
// published digest. The existing installation is left untouched.
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("install: sha256 mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// CorruptBinaryError indicates the extracted binary failed the size sanity
// check.
type CorruptBinaryError struct {
	Size int64
}

func (e *CorruptBinaryError) Error() string {
	return fmt.Sprintf("install: extracted binary is %d bytes, too small to be valid", e.Size)
}
