// Package mgmt is the client for the proxy's remote-management API. Quota
// fetchers, the warmup scheduler, and the usage-statistics poller all talk
// to the proxy through it.
package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds management API calls that carry no caller deadline.
const DefaultTimeout = 5 * time.Second

// StatusError indicates the management API answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mgmt: %s returned status %d", e.Endpoint, e.StatusCode)
}

// AuthFile describes one credential file managed by the proxy.
type AuthFile struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	Account  string `json:"account,omitempty"`
	Index    string `json:"index,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// ModelInfo describes one model available to an auth file.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
	Type    string `json:"type,omitempty"`
}

// APICallRequest is a pass-through upstream call executed by the proxy with
// the credentials of the given auth file. The proxy substitutes the bearer
// token for the placeholder in the Authorization header.
type APICallRequest struct {
	AuthIndex string            `json:"auth-index"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Header    map[string]string `json:"header,omitempty"`
	Body      string            `json:"data,omitempty"`
}

// APICallResponse is the upstream status and body relayed by the proxy.
type APICallResponse struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// UsageStats is the proxy's aggregate request counters.
type UsageStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`
}

// Client calls the management API with bearer-secret auth. BaseURLFn and
// SecretFn are callbacks so a proxy restart on a new port or a rotated
// secret applies without rebuilding the client.
type Client struct {
	HTTPClient *http.Client
	BaseURLFn  func() string
	SecretFn   func() string
}

// NewClient creates a management API client.
func NewClient(baseURLFn func() string, secretFn func() string) *Client {
	if baseURLFn == nil || secretFn == nil {
		panic("mgmt: NewClient requires non-nil callbacks")
	}
	return &Client{
		HTTPClient: &http.Client{},
		BaseURLFn:  baseURLFn,
		SecretFn:   secretFn,
	}
}

// AuthFiles lists the credential files the proxy currently manages.
func (c *Client) AuthFiles(ctx context.Context) ([]AuthFile, error) {
	var out struct {
		Files []AuthFile `json:"files"`
	}
	if err := c.getJSON(ctx, "/auth-files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// AuthFileModels lists the models available to one auth file.
func (c *Client) AuthFileModels(ctx context.Context, name string) ([]ModelInfo, error) {
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	endpoint := "/auth-files/models?name=" + url.QueryEscape(name)
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// UsageStatistics returns the proxy's aggregate request counters.
func (c *Client) UsageStatistics(ctx context.Context) (*UsageStats, error) {
	var out UsageStats
	if err := c.getJSON(ctx, "/usage", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// APICall asks the proxy to perform an upstream request with an auth file's
// credentials and relay the response.
func (c *Client) APICall(ctx context.Context, call APICallRequest) (*APICallResponse, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("mgmt: encode api-call: %w", err)
	}
	req, cancel, err := c.newRequest(ctx, http.MethodPost, "/api-call", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer cancel()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mgmt: api-call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Endpoint: "/api-call"}
	}

	var out APICallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mgmt: decode api-call response: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, cancel, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer cancel()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mgmt: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mgmt: %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mgmt: decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, context.CancelFunc, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cancel := context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURLFn()+endpoint, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("mgmt: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretFn())
	return req, cancel, nil
}
