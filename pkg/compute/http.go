package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// HTTPConfig configures the HTTP backend client.
type HTTPConfig struct {
	// BaseURL is the backend API root, e.g. https://compute.example.com.
	BaseURL string

	// Project is the compute project identifier all operations run under.
	Project string

	// Token is a bearer token for the backend, if required.
	Token string

	// RequestsPerSecond caps calls to the backend API. Zero means
	// unlimited; the backend's own admission control is authoritative
	// either way.
	RequestsPerSecond float64

	// Timeout bounds a single API round-trip. Default 30s.
	Timeout time.Duration
}

func (c HTTPConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("compute backend base url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("compute backend base url: %w", err)
	}
	if c.Project == "" {
		return fmt.Errorf("compute project is required")
	}
	return nil
}

// HTTPBackend implements Backend against the backend's JSON export API:
//
//	POST {base}/v1/projects/{project}/exports          -> {"id": ...}
//	GET  {base}/v1/projects/{project}/exports/{id}     -> {"active": ..., "state": ...}
type HTTPBackend struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend client.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	b := &HTTPBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return b, nil
}

type startResponse struct {
	ID string `json:"id"`
}

type describeResponse struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
	State  string `json:"state"`
}

func (b *HTTPBackend) Start(ctx context.Context, spec OperationSpec) (TaskHandle, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}

	var resp startResponse
	if err := b.do(ctx, http.MethodPost, b.exportsURL(""), bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("backend returned no task id for %s", spec.Description)
	}
	return TaskHandle(resp.ID), nil
}

func (b *HTTPBackend) IsActive(ctx context.Context, h TaskHandle) (bool, error) {
	var resp describeResponse
	if err := b.do(ctx, http.MethodGet, b.exportsURL(string(h)), nil, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

func (b *HTTPBackend) TerminalState(ctx context.Context, h TaskHandle) (string, error) {
	var resp describeResponse
	if err := b.do(ctx, http.MethodGet, b.exportsURL(string(h)), nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (b *HTTPBackend) exportsURL(id string) string {
	u := fmt.Sprintf("%s/v1/projects/%s/exports", b.cfg.BaseURL, url.PathEscape(b.cfg.Project))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (b *HTTPBackend) do(ctx context.Context, method, u string, body io.Reader, out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("compute backend %s %s: %w", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("compute backend %s %s: status %d: %s", method, u, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("compute backend %s %s: decode response: %w", method, u, err)
	}
	return nil
}
