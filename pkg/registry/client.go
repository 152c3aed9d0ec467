package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Lookup is the registry query surface the resolver depends on. Exact is an
// exact-match query by action name; Fuzzy is the semantic fallback. Both
// return (nil, nil) when the registry knows nothing about the action.
type Lookup interface {
	Exact(ctx context.Context, action string) (*Manifest, error)
	Fuzzy(ctx context.Context, action string) (*Manifest, error)
}

// Client is a lightweight HTTP client for the capability registry.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a registry client. Lookups carry a short timeout; a
// missing registry must degrade to "novel action", not stall validation.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Exact queries the registry for the manifest registered under exactly the
// given action name.
func (c *Client) Exact(ctx context.Context, action string) (*Manifest, error) {
	uri := fmt.Sprintf("%s/manifests?%s", c.BaseURL,
		url.Values{"action": {action}}.Encode())
	return c.fetchOne(ctx, uri)
}

// Fuzzy queries the registry's semantic search endpoint and returns the best
// match, if any.
func (c *Client) Fuzzy(ctx context.Context, action string) (*Manifest, error) {
	uri := fmt.Sprintf("%s/manifests/search?%s", c.BaseURL,
		url.Values{"q": {action}}.Encode())
	return c.fetchOne(ctx, uri)
}

// fetchOne performs a GET and decodes either a single manifest object or a
// result list, returning the first entry. 404 and an empty list both mean
// "not registered".
func (c *Client) fetchOne(ctx context.Context, uri string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry HTTP %d: %s", resp.StatusCode, truncate(body, 300))
	}

	// Single object or {"manifests": [...]} / bare list; registries differ.
	var m Manifest
	if err := json.Unmarshal(body, &m); err == nil && m.Action != "" {
		return &m, nil
	}
	var list []Manifest
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}
	var wrapped struct {
		Manifests []Manifest `json:"manifests"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Manifests) == 0 {
			return nil, nil
		}
		return &wrapped.Manifests[0], nil
	}
	return nil, fmt.Errorf("parse registry response: %s", truncate(body, 300))
}

func truncate(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
