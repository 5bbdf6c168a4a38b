package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// Defaults for Config.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = 100 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Config configures an HTTPClient.
type Config struct {
	// Server is host:port or a full http(s) URL.
	Server       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	TLSConfig    *tls.Config
	Logger       hclog.Logger
	UserAgent    string
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Details   any
	RequestID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		fmt.Fprintf(&b, "request failed with status %d", e.Status)
	}
	if d, ok := e.Details.(string); ok && d != "" {
		fmt.Fprintf(&b, ": %s", d)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrNotFound) hold for 404s.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// HTTPClient talks to one toolhost server.
type HTTPClient struct {
	baseURL   string
	userAgent string
	client    *retryablehttp.Client
}

// NewHTTPClient creates a client. Plain host:port servers get http://.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogger(false)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "toolhost-cli"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSConfig != nil {
		transport.TLSClientConfig = cfg.TLSConfig
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	rc.Logger = cfg.Logger
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		baseURL:   normalizeServer(cfg.Server),
		userAgent: cfg.UserAgent,
		client:    rc,
	}
}

// NewLogger returns the hclog logger used for retry messages. It writes
// to stderr at debug when verbose and stays silent otherwise.
func NewLogger(verbose bool) hclog.Logger {
	if !verbose {
		return hclog.NewNullLogger()
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "toolhost-cli",
		Level:  hclog.Debug,
		Output: os.Stderr,
	})
}

func normalizeServer(server string) string {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return server
}

// BaseURL returns the server URL requests are sent to.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends a request with an optional JSON body.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// GetJSON sends GET path and decodes the envelope's data into target.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, target any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

// Delete sends DELETE path and expects no body back.
func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return ParseResponse(resp, nil)
}

type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   any             `json:"details"`
}

// ParseResponse closes resp and decodes the data of the server's response
// envelope into target. Non-2xx statuses become *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(body, &env) == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.Details = env.Details
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}

	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}
