package bugzilla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

const (
	// DefaultBaseURL is the Mozilla Bugzilla instance.
	DefaultBaseURL = "https://bugzilla.mozilla.org"

	apiKeyHeader = "X-BUGZILLA-API-KEY"
	maxErrorBody = 64 << 10
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests (0 = unlimited).
	RequestsPerSecond float64
	// Burst allows short bursts above the rate limit.
	Burst int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client queries the Bugzilla REST API.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a Client for cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse bugzilla base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("bugzilla base url %q must be absolute", base)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = "bugtracker"
	}

	return &Client{
		baseURL:   u,
		apiKey:    cfg.APIKey,
		userAgent: ua,
		http:      hc,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Query runs GET /rest/bug for q.
func (c *Client) Query(ctx context.Context, q Query) (*Response, error) {
	if len(q.IDs) == 0 && q.BlockedBy == "" {
		return &Response{}, nil
	}

	resp, err := c.get(ctx, "/rest/bug", q.Values())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := DecodeResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("bugzilla query",
		"ids", len(q.IDs),
		"blocks", q.BlockedBy,
		"bugs", len(out.Bugs),
	)
	return out, nil
}

// Version returns the server version from /rest/version. It doubles as a
// reachability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/rest/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &MalformedResponseError{Err: err}
	}
	return body.Version, nil
}

// BugURL links to the bug's page.
func (c *Client) BugURL(id bug.ID) string {
	return c.baseURL.String() + "/show_bug.cgi?id=" + url.QueryEscape(id.String())
}

// TreeURL links to the server's own dependency tree page for root.
func (c *Client) TreeURL(root string, maxDepth int) string {
	v := url.Values{}
	v.Set("id", root)
	v.Set("maxdepth", strconv.Itoa(maxDepth))
	v.Set("hide_resolved", "1")
	return c.baseURL.String() + "/showdependencytree.cgi?" + v.Encode()
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Status: err.Error(), Err: err}
		}
	}

	u := *c.baseURL
	u.Path += path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Status: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Status: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    errorMessage(resp.Body),
		}
	}
	return resp, nil
}

// errorMessage extracts Bugzilla's {"error": true, "message": ...} text.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return ""
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
