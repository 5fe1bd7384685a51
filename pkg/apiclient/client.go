// Package apiclient calls the backing REST API with a bearer token from a
// TokenSource, retrying once with a fresh token when the API answers 401.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/metrics"
	"github.com/getmockd/mcpgate/pkg/tracing"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// TokenSource supplies bearer tokens. *credential.Cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client is an authenticated backing API client. It is safe for concurrent
// use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	tokens     TokenSource
	userAgent  string
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. hc is never modified.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP timeout for the client, whichever HTTP client
// ends up in use.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = logging.Component(log, "apiclient") }
}

// WithMetrics records every API call on m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends req with a bearer token. A 401 invalidates the cached token and
// the request is sent once more with a fresh one; a second 401 returns an
// *APIError matching ErrAuthExpired. Requests with a body must set GetBody
// (http.NewRequest does for in-memory readers) to be retried.
//
// Any other status is returned to the caller untouched.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	c.log.Debug("api rejected token, refreshing", "url", req.URL.Redacted())
	c.tokens.Invalidate()

	retry, err := rewind(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	body := readBody(resp)
	c.log.Warn("api rejected a freshly issued token", "url", req.URL.Redacted())
	return nil, &APIError{
		StatusCode:  http.StatusUnauthorized,
		ErrorCode:   CodeAuthExpired,
		Message:     "api rejected credentials after refresh",
		Body:        body,
		AuthExpired: true,
	}
}

// GetJSON GETs path (relative to the base URL) with query and decodes the
// JSON response into out. Non-2xx statuses become *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target, err := c.resolve(path, query)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// resolve joins path onto the base URL. The result must stay under the base
// path.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	if strings.Contains(path, "://") {
		return "", fmt.Errorf("path %q must be relative", path)
	}
	u := c.baseURL.JoinPath(path)
	base := strings.TrimSuffix(c.baseURL.Path, "/")
	if strings.Contains(u.Path+"/", "/../") || (u.Path != base && !strings.HasPrefix(u.Path, base+"/")) {
		return "", fmt.Errorf("path %q escapes the API root", path)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	r := req.Clone(ctx)
	r.Header.Set("Authorization", "Bearer "+tok)
	if c.userAgent != "" {
		r.Header.Set("User-Agent", c.userAgent)
	}
	tracing.Inject(ctx, r.Header)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		c.metrics.APIRequest(0)
		return nil, &APIError{
			ErrorCode: CodeConnectionError,
			Message:   fmt.Sprintf("cannot reach API at %s: %v", c.baseURL.Host, err),
			Err:       err,
		}
	}
	c.metrics.APIRequest(resp.StatusCode)
	return resp, nil
}

// rewind prepares req to be sent again.
func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed for retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replaying request body: %w", err)
	}
	r.Body = body
	return r, nil
}

// parseError builds an APIError from a non-2xx response.
func parseError(resp *http.Response) error {
	body := readBody(resp)

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err == nil && errResp.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorCode:  errResp.Error,
			Message:    errResp.Message,
			Body:       body,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorCode:  CodeUnknownError,
		Message:    fmt.Sprintf("api returned status %d", resp.StatusCode),
		Body:       body,
	}
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return string(b)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
