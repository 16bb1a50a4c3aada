package install

import (
	"regexp"
	"strings"
)

// Release publishers embed digests in several formats. Patterns are tried in
// order; the first hit wins.
var checksumNotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)SHA256[:\s-]+([a-fA-F0-9]{64})`),
	regexp.MustCompile(`(?mi)sha256[:\s-]+([a-fA-F0-9]{64})`),
	regexp.MustCompile(`(?mi)SHA-256[:\s-]+([a-fA-F0-9]{64})`),
	regexp.MustCompile(`(?m)^([a-fA-F0-9]{64})\s`),
}

// checksumFromNotes extracts a SHA-256 digest from release notes text.
// Returns "" when none of the known formats match.
func checksumFromNotes(notes string) string {
	for _, pattern := range checksumNotePatterns {
		if m := pattern.FindStringSubmatch(notes); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

var bareHexDigest = regexp.MustCompile(`([a-fA-F0-9]{64})`)

// checksumFromFile extracts a digest from a checksum file body, which is
// either "<hash>  <filename>" or a bare hash.
func checksumFromFile(body string) string {
	if m := bareHexDigest.FindStringSubmatch(body); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// checksumAssetFor finds the checksum companion asset for assetName, trying
// the naming conventions seen across releases. Conventions are built from
// the archive's extension-stripped base name, so both
// "name.tar.gz.sha256sum" and "name.sha256" styles resolve.
func checksumAssetFor(assets []releaseAsset, assetName string) *releaseAsset {
	base := strings.ToLower(assetName)
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		base = strings.TrimSuffix(base, ext)
	}
	candidates := []string{
		base + ".sha256",
		base + ".sha256sum",
		base + "_sha256.txt",
		"sha256-" + base + ".txt",
	}

	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		for _, candidate := range candidates {
			if strings.Contains(name, candidate) {
				return &assets[i]
			}
		}
		if strings.Contains(name, base) && strings.Contains(name, "sha256") {
			return &assets[i]
		}
	}
	return nil
}
