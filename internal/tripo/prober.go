package tripo

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound means none of the candidate URLs resolved to an artifact.
var ErrNotFound = &APIError{HTTPStatus: http.StatusNotFound, Message: "no candidate URL resolved"}

// Prober checks candidate artifact URLs against the vendor CDN. A HEAD probe
// runs first so misses stay cheap; some vendor endpoints reject HEAD, so a
// miss falls through to GET anyway.
type Prober struct {
	cfg        Config
	httpClient *http.Client
}

// NewProber uses a short per-request timeout: candidate probing is best-effort
// and must never stall a finalize.
func NewProber(cfg Config) *Prober {
	return &Prober{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

// Fetch downloads one URL, returning the body on HTTP success.
func (p *Prober) Fetch(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Message: "artifact fetch failed: " + url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// FetchFirst tries candidates in order and returns the first that resolves.
func (p *Prober) FetchFirst(candidates []string) (string, []byte, error) {
	for _, u := range candidates {
		if !p.head(u) {
			continue
		}
		body, err := p.Fetch(u)
		if err != nil {
			continue
		}
		return u, body, nil
	}
	// Second pass with GET only, for endpoints that reject HEAD.
	for _, u := range candidates {
		body, err := p.Fetch(u)
		if err != nil {
			continue
		}
		return u, body, nil
	}
	return "", nil, ErrNotFound
}

// head reports whether the URL answers a HEAD probe with success.
func (p *Prober) head(url string) bool {
	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return false
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Prober) setHeaders(req *http.Request) {
	if p.cfg.Referer != "" {
		req.Header.Set("Referer", p.cfg.Referer)
	}
	if p.cfg.Origin != "" {
		req.Header.Set("Origin", p.cfg.Origin)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	if p.cfg.AppID != "" {
		req.Header.Set("X-App-Id", p.cfg.AppID)
	}
}
