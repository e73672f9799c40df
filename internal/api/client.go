package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/core"
	"github.com/colthorp/bsky-cli-go/internal/ratelimit"
)

// maxRetryAfter caps server-provided delays; daily write quotas can name a
// reset hours away.
const maxRetryAfter = 5 * time.Minute

// Client is the HTTP wrapper around a PDS's XRPC endpoints.
type Client struct {
	host       string
	httpClient *http.Client
	limiter    ratelimit.Limiter

	readPolicy  ratelimit.Policy
	writePolicy ratelimit.Policy

	mu        sync.RWMutex
	session   *Session
	onSession func(*Session)
	reauth    func(context.Context) (*Session, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLimiter sets the limiter waited on before every HTTP attempt.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetryPolicies overrides the query and procedure retry policies.
func WithRetryPolicies(read, write ratelimit.Policy) Option {
	return func(c *Client) {
		c.readPolicy = read
		c.writePolicy = write
	}
}

// WithoutRetries makes every call a single attempt. Callers that retry on
// their own use it so the two layers do not multiply.
func WithoutRetries() Option {
	once := ratelimit.Policy{Attempts: 1}
	return WithRetryPolicies(once, once)
}

// WithSessionCallback registers fn to receive refreshed sessions.
func WithSessionCallback(fn func(*Session)) Option {
	return func(c *Client) { c.onSession = fn }
}

// WithReauth sets the fallback used when the refresh token is rejected too.
func WithReauth(fn func(context.Context) (*Session, error)) Option {
	return func(c *Client) { c.reauth = fn }
}

// NewClient creates a client for the PDS at host (default bsky.social).
func NewClient(host string, opts ...Option) *Client {
	if host == "" {
		host = core.DefaultPDS
	}
	c := &Client{
		host: strings.TrimRight(host, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter:     ratelimit.Disabled{},
		readPolicy:  ratelimit.ReadPolicy(IsTransient),
		// Procedures are not idempotent; only a rate limit proves nothing was written.
		writePolicy: ratelimit.WritePolicy(IsRateLimited),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSession installs credentials for subsequent calls.
func (c *Client) SetSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Session returns the current credentials, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Query performs a GET request and decodes the JSON payload.
// Transient failures are retried with the read policy.
func (c *Client) Query(ctx context.Context, nsid string, params url.Values, out interface{}) error {
	return c.call(ctx, http.MethodGet, nsid, params, nil, out, c.readPolicy)
}

// Procedure POSTs body as JSON. Rate-limited calls are retried with the
// write policy; other failures are returned as is.
func (c *Client) Procedure(ctx context.Context, nsid string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", nsid, err)
		}
	}
	return c.call(ctx, http.MethodPost, nsid, nil, payload, out, c.writePolicy)
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, payload []byte, out interface{}, policy ratelimit.Policy) error {
	refreshed := false
	for {
		err := ratelimit.Retry(ctx, policy, func(ctx context.Context) error {
			return c.do(ctx, method, nsid, params, payload, out)
		})
		if err == nil || refreshed || !IsExpiredToken(err) || !refreshable(nsid) {
			return err
		}
		refreshed = true
		if rerr := c.refresh(ctx); rerr != nil {
			return fmt.Errorf("session expired and could not be renewed: %w", rerr)
		}
	}
}

func refreshable(nsid string) bool {
	return nsid != NSIDCreateSession && nsid != NSIDRefreshSession
}

func (c *Client) token(nsid string) string {
	s := c.Session()
	if s == nil {
		return ""
	}
	switch nsid {
	case NSIDCreateSession:
		return ""
	case NSIDRefreshSession:
		return s.RefreshJwt
	default:
		return s.AccessJwt
	}
}

func (c *Client) refresh(ctx context.Context) error {
	var s Session
	if err := c.Procedure(ctx, NSIDRefreshSession, nil, &s); err != nil {
		if c.reauth == nil {
			return err
		}
		log.WithError(err).Info("session refresh failed, logging in again")
		fresh, rerr := c.reauth(ctx)
		if rerr != nil {
			return rerr
		}
		s = *fresh
	}
	log.WithField("handle", s.Handle).Debug("session renewed")
	c.SetSession(&s)
	if c.onSession != nil {
		c.onSession(&s)
	}
	return nil
}

// do performs one HTTP attempt.
func (c *Client) do(ctx context.Context, method, nsid string, params url.Values, payload []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	urlStr := fmt.Sprintf("%s/xrpc/%s", c.host, nsid)
	if len(params) > 0 {
		urlStr = fmt.Sprintf("%s?%s", urlStr, params.Encode())
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(nsid); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	entry := log.WithFields(log.Fields{"method": method, "nsid": nsid})
	entry.Debug("xrpc request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	entry.WithFields(log.Fields{"status": resp.StatusCode, "bytes": len(data)}).Debug("xrpc response")

	if resp.StatusCode >= 400 {
		return decodeError(resp, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", nsid, err)
	}
	return nil
}

func decodeError(resp *http.Response, data []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && (body.Error != "" || body.Message != "") {
		apiErr.Name = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	apiErr.retryAfter = retryAfter(resp.Header, time.Now())
	return apiErr
}

// retryAfter reads Retry-After (seconds or HTTP date) or ratelimit-reset
// (unix seconds).
func retryAfter(h http.Header, now time.Time) time.Duration {
	var wait time.Duration
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			wait = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(ra); err == nil {
			wait = t.Sub(now)
		}
	} else if reset := h.Get("Ratelimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			wait = time.Unix(epoch, 0).Sub(now)
		}
	}
	if wait < 0 {
		return 0
	}
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}
