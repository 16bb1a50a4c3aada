// Package provider enumerates the upstream AI providers the proxy routes to
// and the per-provider attributes the rest of the application keys on.
package provider

import "sort"

// Provider identifies one upstream provider by its canonical key. The key
// doubles as the auth-file name prefix and the quota map key.
type Provider string

const (
	GeminiCLI     Provider = "gemini-cli"
	Claude        Provider = "claude"
	Codex         Provider = "codex"
	Qwen          Provider = "qwen"
	IFlow         Provider = "iflow"
	Antigravity   Provider = "antigravity"
	Vertex        Provider = "vertex"
	Kiro          Provider = "kiro"
	GitHubCopilot Provider = "github-copilot"
	Cursor        Provider = "cursor"
	Trae          Provider = "trae"
	GLM           Provider = "glm"
	Warp          Provider = "warp"
)

// All lists every known provider in canonical order.
var All = []Provider{
	GeminiCLI, Claude, Codex, Qwen, IFlow, Antigravity, Vertex,
	Kiro, GitHubCopilot, Cursor, Trae, GLM, Warp,
}

var displayNames = map[Provider]string{
	GeminiCLI:     "Gemini CLI",
	Claude:        "Claude",
	Codex:         "Codex",
	Qwen:          "Qwen",
	IFlow:         "iFlow",
	Antigravity:   "Antigravity",
	Vertex:        "Vertex AI",
	Kiro:          "Kiro",
	GitHubCopilot: "GitHub Copilot",
	Cursor:        "Cursor",
	Trae:          "Trae",
	GLM:           "GLM",
	Warp:          "Warp",
}

// String returns the canonical key.
func (p Provider) String() string { return string(p) }

// DisplayName returns the human-readable provider name, falling back to the
// raw key for providers added upstream that this build doesn't know yet.
func (p Provider) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

// Known reports whether p is one of the providers this build understands.
func (p Provider) Known() bool {
	_, ok := displayNames[p]
	return ok
}

// RequiresExplicitScan reports whether quota for this provider may only be
// fetched on explicit user action. Cursor and Trae accounts surface usage
// data that users may consider sensitive, so background refresh skips them.
func (p Provider) RequiresExplicitScan() bool {
	return p == Cursor || p == Trae
}

// SupportsWarmup reports whether accounts on this provider can be kept warm
// with minimal scheduled requests.
func (p Provider) SupportsWarmup() bool {
	return p == Antigravity
}

// SortKeys orders account keys deterministically: by display name first,
// then by the raw key as a tiebreaker. displayName maps an account key to
// its user-facing label and may return "" when none is known.
func SortKeys(keys []string, displayName func(key string) string) {
	sort.SliceStable(keys, func(i, j int) bool {
		di, dj := displayName(keys[i]), displayName(keys[j])
		if di == "" {
			di = keys[i]
		}
		if dj == "" {
			dj = keys[j]
		}
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})
}
