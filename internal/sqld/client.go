// Package sqld is a client for the administrative REST surface of a
// libsql/sqld server: namespace listing and creation, health and version.
package sqld

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

	"github.com/sipico/sqld-gateway/internal/errs"
)

// Client talks to one server's admin plane.
type Client struct {
	baseURL    string
	auth       http.Header
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client for the admin plane at baseURL. auth is sent
// with every request.
func NewClient(baseURL string, auth http.Header, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListNamespaces returns every namespace hosted on the server.
// GET /v1/namespaces
func (c *Client) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/v1/namespaces", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	var result ListNamespacesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode namespaces: %v", errs.ErrRemoteRejected, err)
	}
	if result.Namespaces == nil {
		result.Namespaces = []Namespace{}
	}

	return result.Namespaces, nil
}

// CreateNamespace creates an empty namespace.
// POST /v1/namespaces/{name}/create
// A 409 from the server is reported as errs.ErrConflict.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	if err := ValidateNamespaceName(name); err != nil {
		return err
	}

	resp, body, err := c.do(ctx, http.MethodPost, "/v1/namespaces/"+url.PathEscape(name)+"/create", []byte("{}"))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return parseError(resp.StatusCode, body)
}

// Health reports whether GET /health answered 2xx. Errors are not
// propagated: an unreachable server is simply unhealthy.
func (c *Client) Health(ctx context.Context) bool {
	resp, _, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Version probes GET /version. Like Health it never fails and accepts any
// 2xx answer; an unreachable server yields IsAccessible=false.
func (c *Client) Version(ctx context.Context) *VersionInfo {
	start := time.Now()
	resp, body, err := c.do(ctx, http.MethodGet, "/version", nil)
	elapsed := time.Since(start)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &VersionInfo{ResponseTimeMS: elapsed.Milliseconds()}
	}
	return ParseVersion(string(body), elapsed)
}

// do sends one request and reads the whole response body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, errs.Invalid("failed to create request: %v", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range c.auth {
		req.Header[name] = append([]string(nil), values...)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errs.Unreachable(err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errs.Unreachable(err)
	}

	return resp, body, nil
}

// parseError maps a non-2xx admin-plane response to an error kind.
// sqld reports failures as {"error": "..."}; plain-text bodies are used verbatim.
func parseError(statusCode int, body []byte) error {
	kind := errs.ErrRemoteRejected
	switch statusCode {
	case http.StatusConflict:
		kind = errs.ErrConflict
	case http.StatusNotFound:
		kind = errs.ErrNotFound
	}
	return &errs.RemoteError{Kind: kind, StatusCode: statusCode, Message: ErrorMessage(body)}
}

// ErrorMessage extracts the message from a sqld error body: the "error" or
// "message" field of a JSON object, otherwise the trimmed text.
func ErrorMessage(body []byte) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	return strings.TrimSpace(string(body))
}
