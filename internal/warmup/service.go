package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quotio/quotio/internal/mgmt"
)

// managementAPI is the slice of the management client the warmup service
// needs. mgmt.Client satisfies it.
type managementAPI interface {
	AuthFiles(ctx context.Context) ([]mgmt.AuthFile, error)
	AuthFileModels(ctx context.Context, name string) ([]mgmt.ModelInfo, error)
	APICall(ctx context.Context, call mgmt.APICallRequest) (*mgmt.APICallResponse, error)
}

// Antigravity endpoints in preference order. The daily endpoints front the
// stable one; each is tried until one answers 2xx.
var antigravityBaseURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// modelAliases maps catalog model IDs to the names the generation endpoint
// accepts. Lookup is on the lowercased ID.
var modelAliases = map[string]string{
	"gemini-3-pro-preview":                    "gemini-3-pro-high",
	"gemini-3-flash-preview":                  "gemini-3-flash",
	"gemini-2.5-flash-preview":                "gemini-2.5-flash",
	"gemini-2.5-flash-lite-preview":           "gemini-2.5-flash-lite",
	"gemini-2.5-pro-preview":                  "gemini-2.5-pro",
	"gemini-claude-sonnet-4-5":                "claude-sonnet-4-5",
	"gemini-claude-sonnet-4-5-thinking":       "claude-sonnet-4-5-thinking",
	"gemini-claude-opus-4-5-thinking":         "claude-opus-4-5-thinking",
	"gemini-2.5-computer-use-preview-10-2025": "rev19-uic3-1p",
	"gemini-3-pro-image-preview":              "gemini-3-pro-image",
}

// resolveModelAlias returns the wire name for a catalog model ID.
func resolveModelAlias(model string) string {
	if alias, ok := modelAliases[strings.ToLower(model)]; ok {
		return alias
	}
	return model
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role"`
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type generateRequest struct {
	SessionID        string            `json:"sessionId"`
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

// warmupPayload is the minimal generateContent request: a one-character
// prompt capped at one output token. Enough to touch the quota window
// without spending meaningful tokens.
type warmupPayload struct {
	Project   string          `json:"project"`
	RequestID string          `json:"requestId"`
	UserAgent string          `json:"userAgent"`
	Model     string          `json:"model"`
	Request   generateRequest `json:"request"`
}

func newWarmupPayload(model string) warmupPayload {
	id := uuid.NewString()
	return warmupPayload{
		Project:   "warmup-" + id[:5],
		RequestID: "agent-" + uuid.NewString(),
		UserAgent: "antigravity",
		Model:     resolveModelAlias(model),
		Request: generateRequest{
			SessionID: "-" + uuid.NewString()[:12],
			Contents: []generateContent{
				{Role: "user", Parts: []generatePart{{Text: "."}}},
			},
			GenerationConfig: generationConfig{MaxOutputTokens: 1},
		},
	}
}

// Service issues warmup requests through the proxy's api-call relay and
// caches per-account model catalogs.
type Service struct {
	client managementAPI
	models *modelCache
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Client          managementAPI
	ModelCacheTTL   time.Duration
	ModelCacheSlots int
}

// NewService creates a warmup service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Client == nil {
		panic("warmup: ServiceConfig requires a Client")
	}
	ttl := cfg.ModelCacheTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	slots := cfg.ModelCacheSlots
	if slots <= 0 {
		slots = 64
	}
	return &Service{
		client: cfg.Client,
		models: newModelCache(slots, ttl),
	}
}

// Close releases the model cache.
func (s *Service) Close() {
	s.models.close()
}

// Models lists the models available to an auth file, served from the TTL
// cache when fresh.
func (s *Service) Models(ctx context.Context, authFileName string) ([]mgmt.ModelInfo, error) {
	if cached, ok := s.models.get(authFileName); ok {
		return cached, nil
	}
	models, err := s.client.AuthFileModels(ctx, authFileName)
	if err != nil {
		return nil, err
	}
	s.models.set(authFileName, models)
	return models, nil
}

// InvalidateModels drops the cached catalog for an auth file, forcing a
// re-list on the next pass.
func (s *Service) InvalidateModels(authFileName string) {
	s.models.invalidate(authFileName)
}

// WarmModel sends one minimal generation request for the model through the
// proxy with the auth file's credentials. Each base URL is tried in order;
// the first 2xx upstream answer wins.
func (s *Service) WarmModel(ctx context.Context, authIndex, model string) error {
	body, err := json.Marshal(newWarmupPayload(model))
	if err != nil {
		return fmt.Errorf("warmup: encode payload: %w", err)
	}

	var lastErr error
	for _, base := range antigravityBaseURLs {
		resp, err := s.client.APICall(ctx, mgmt.APICallRequest{
			AuthIndex: authIndex,
			Method:    http.MethodPost,
			URL:       base + "/v1internal:generateContent",
			Header: map[string]string{
				"Authorization": "Bearer $TOKEN$",
				"Content-Type":  "application/json",
				"User-Agent":    "antigravity/1.104.0",
			},
			Body: string(body),
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("warmup: %s answered status %d for %s", base, resp.StatusCode, model)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("warmup: no endpoint accepted model %s", model)
	}
	return lastErr
}

// WarmAccount runs the account's models sequentially, reporting progress
// through onUpdate after every state change. Failures are recorded per model
// and never abort the pass.
func (s *Service) WarmAccount(ctx context.Context, authIndex string, models []string, st Status, onUpdate func(Status)) Status {
	st.IsRunning = true
	st.ProgressTotal = len(models)
	st.ProgressCompleted = 0
	st.LastError = ""
	st.ModelStates = make(map[string]ModelState, len(models))
	for _, m := range models {
		st.ModelStates[m] = ModelPending
	}
	onUpdate(st)

	for _, m := range models {
		if ctx.Err() != nil {
			st.LastError = ctx.Err().Error()
			break
		}
		st.CurrentModel = m
		st.ModelStates[m] = ModelRunning
		onUpdate(st)

		if err := s.WarmModel(ctx, authIndex, m); err != nil {
			log.Printf("[warmup] model %s on auth %s: %v", m, authIndex, err)
			st.ModelStates[m] = ModelFailed
			st.LastError = err.Error()
		} else {
			st.ModelStates[m] = ModelSucceeded
		}
		st.ProgressCompleted++
		onUpdate(st)
	}

	st.IsRunning = false
	st.CurrentModel = ""
	st.LastRun = time.Now()
	onUpdate(st)
	return st
}
