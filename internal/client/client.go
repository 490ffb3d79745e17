// Package client talks to the wol-home HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/wake"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Rows    []pinning.RowError
}

func (e *APIError) Error() string {
	if len(e.Rows) == 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.String()
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Message, e.Status, strings.Join(msgs, "; "))
}

// Client is an API client. It is safe for concurrent use.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backends is the server's wake utility probe.
type Backends struct {
	Availability wake.Availability `json:"availability"`
	Selected     *wake.Backend     `json:"selected,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Lease is a static lease to stage.
type Lease struct {
	Name string   `json:"name"`
	IP   string   `json:"ip"`
	MACs []string `json:"macs"`
}

func (c *Client) Hosts(ctx context.Context) (*hostdir.Directory, error) {
	var dir hostdir.Directory
	if err := c.do(ctx, http.MethodGet, "/api/hosts", nil, &dir); err != nil {
		return nil, err
	}
	return &dir, nil
}

// Wake sends a form wake.
func (c *Client) Wake(ctx context.Context, f wake.Form) (*wake.Outcome, error) {
	var out wake.Outcome
	if err := c.do(ctx, http.MethodPost, "/api/wake", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WakeHost wakes a host with the server defaults.
func (c *Client) WakeHost(ctx context.Context, mac string) (*wake.Outcome, error) {
	var out wake.Outcome
	if err := c.do(ctx, http.MethodPost, "/api/hosts/"+macPath(mac)+"/wake", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Pin(ctx context.Context, req pinning.PinRequest) (*pinning.Result, error) {
	var res pinning.Result
	if err := c.do(ctx, http.MethodPost, "/api/pins", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Unpin(ctx context.Context, mac string) (*pinning.Result, error) {
	var res pinning.Result
	if err := c.do(ctx, http.MethodDelete, "/api/pins/"+macPath(mac), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReplacePins replaces the whole pinned set.
func (c *Client) ReplacePins(ctx context.Context, rows []pinning.Row) (*pinning.Result, error) {
	var res pinning.Result
	body := map[string][]pinning.Row{"rows": rows}
	if err := c.do(ctx, http.MethodPut, "/api/pins", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Changes(ctx context.Context) (map[string][]configstore.Change, error) {
	var changes map[string][]configstore.Change
	if err := c.do(ctx, http.MethodGet, "/api/changes", nil, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (c *Client) ApplyChanges(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/changes/apply", nil, nil)
}

func (c *Client) RevertChanges(ctx context.Context, config string) error {
	return c.do(ctx, http.MethodDelete, "/api/changes/"+url.PathEscape(config), nil, nil)
}

// AddLease stages a static lease without applying it.
func (c *Client) AddLease(ctx context.Context, l Lease) error {
	return c.do(ctx, http.MethodPost, "/api/leases", l, nil)
}

func (c *Client) Backends(ctx context.Context) (*Backends, error) {
	var b Backends
	if err := c.do(ctx, http.MethodGet, "/api/backends", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// macPath uses the compact form so paths need no escaping. Invalid input is
// passed through for the server to reject.
func macPath(mac string) string {
	if hostdir.ValidMAC(mac) {
		return hostdir.CompactMAC(mac)
	}
	return url.PathEscape(mac)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error string             `json:"error"`
			Rows  []pinning.RowError `json:"rows"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Rows = e.Rows
		} else if s := strings.TrimSpace(string(data)); s != "" {
			apiErr.Message = s
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
