package install

import (
	"path"
	"strings"
)

// releaseAsset represents one downloadable file attached to a release.
type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// releaseInfo is the subset of the release API response the installer needs.
// Body carries the release notes, where publishers often embed checksums.
type releaseInfo struct {
	TagName string         `json:"tag_name"`
	Body    string         `json:"body"`
	Assets  []releaseAsset `json:"assets"`
}

// assetSkipTokens excludes assets that can never be the binary for this
// host: foreign platforms and checksum companions.
var assetSkipTokens = []string{"windows", "checksum"}

// selectAsset picks the release asset matching goos/goarch. Asset names
// follow the "<name>_<version>_<os>_<arch>.<ext>" convention, so matching is
// a case-insensitive substring check on "<os>_<arch>" plus the project name
// derived from the repository.
func selectAsset(release *releaseInfo, repo, goos, goarch string) *releaseAsset {
	platformToken := goos + "_" + goarch
	nameHint := strings.ToLower(path.Base(repo))

	for i := range release.Assets {
		name := strings.ToLower(release.Assets[i].Name)
		if containsAny(name, assetSkipTokens) {
			continue
		}
		if strings.Contains(name, platformToken) && strings.Contains(name, nameHint) {
			return &release.Assets[i]
		}
	}
	return nil
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
