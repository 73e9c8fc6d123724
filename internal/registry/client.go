package registry

import (
	"bytes"
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

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/clock"
	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/logging"
	"github.com/permaskills/skills/internal/retry"
)

// Default read and result policies.
const (
	DefaultReadTimeout  = 45 * time.Second
	DefaultReadAttempts = 3
	DefaultRetryDelay   = 8 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultAwaitTimeout = 30 * time.Second
)

// maxResponseSize caps registry replies.
const maxResponseSize = 16 * 1024 * 1024

// Client talks to one registry process through its compute unit (reads and
// results) and messenger unit (writes).
type Client struct {
	cuURL     string
	muURL     string
	processID string

	httpClient *http.Client
	signer     dataitem.Signer
	logger     *slog.Logger
	clock      clock.Clock
	cache      *Cache

	readTimeout  time.Duration
	readAttempts int
	retryDelay   time.Duration
	pollInterval time.Duration
	awaitTimeout time.Duration
	cacheTTL     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithSigner sets the key used to sign writes.
func WithSigner(s dataitem.Signer) Option {
	return func(cl *Client) { cl.signer = s }
}

// WithLogger sets the logger for retries and polling.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock sets the clock used by the cache and pollers.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithReadPolicy overrides the per-query timeout, attempt count and fixed
// delay between attempts.
func WithReadPolicy(timeout time.Duration, attempts int, delay time.Duration) Option {
	return func(cl *Client) {
		cl.readTimeout = timeout
		cl.readAttempts = attempts
		cl.retryDelay = delay
	}
}

// WithResultPolling overrides how AwaitResult polls.
func WithResultPolling(interval, timeout time.Duration) Option {
	return func(cl *Client) {
		cl.pollInterval = interval
		cl.awaitTimeout = timeout
	}
}

// WithCacheTTL overrides the read cache lifetime. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Client) { cl.cacheTTL = ttl }
}

// New creates a Client. All three endpoints are required.
func New(cuURL, muURL, processID string, opts ...Option) (*Client, error) {
	for setting, v := range map[string]string{
		"registry.cu_url":     cuURL,
		"registry.mu_url":     muURL,
		"registry.process_id": processID,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
				fmt.Sprintf("%s is not configured", setting),
				fmt.Sprintf("run 'skills config set %s <value>'", setting))
		}
	}

	c := &Client{
		cuURL:        strings.TrimRight(cuURL, "/"),
		muURL:        strings.TrimRight(muURL, "/"),
		processID:    processID,
		httpClient:   http.DefaultClient,
		logger:       logging.Discard(),
		clock:        clock.Real(),
		readTimeout:  DefaultReadTimeout,
		readAttempts: DefaultReadAttempts,
		retryDelay:   DefaultRetryDelay,
		pollInterval: DefaultPollInterval,
		awaitTimeout: DefaultAwaitTimeout,
		cacheTTL:     DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = NewCache(c.cacheTTL, c.clock)
	return c, nil
}

// Cache returns the client's read cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// ProcessID returns the registry process id.
func (c *Client) ProcessID() string {
	return c.processID
}

// dryRunRequest is the body of a read query.
type dryRunRequest struct {
	Target string        `json:"Target"`
	Owner  string        `json:"Owner"`
	Data   string        `json:"Data"`
	Tags   dataitem.Tags `json:"Tags"`
}

// query runs a read with the timeout and retry policy. Successful and
// not-found replies are cached under cacheKey when it is non-empty.
func (c *Client) query(ctx context.Context, cacheKey string, tags dataitem.Tags) (Result, error) {
	if cacheKey != "" {
		if r, ok := c.cache.Get(cacheKey); ok {
			c.logger.Debug("registry cache hit", "key", cacheKey)
			return r, nil
		}
	}

	action := tags.Value("Action")
	policy := retry.Fixed(c.readAttempts, c.retryDelay, isRetryable)
	policy.Clock = c.clock
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("registry query failed, retrying",
			"action", action, "attempt", attempt, "delay", delay, "error", err)
	}

	var result Result
	err := policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		defer cancel()

		r, err := c.dryRun(attemptCtx, tags)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeTimeout,
					fmt.Sprintf("registry %s timed out after %s", action, c.readTimeout),
					"the registry is unresponsive; try again later")
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if cacheKey != "" {
		c.cache.Put(cacheKey, result)
	}
	return result, nil
}

func (c *Client) dryRun(ctx context.Context, tags dataitem.Tags) (Result, error) {
	owner := ""
	if c.signer != nil {
		owner = c.signer.Owner()
	}
	body, err := json.Marshal(dryRunRequest{Target: c.processID, Owner: owner, Tags: tags})
	if err != nil {
		return Result{}, fmt.Errorf("encoding query: %w", err)
	}

	endpoint := c.cuURL + "/dry-run?process-id=" + url.QueryEscape(c.processID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var env envelope
	if err := c.do(req, &env); err != nil {
		return Result{}, err
	}
	return decodeEnvelope(env), nil
}

// do sends req and decodes a JSON reply into out, classifying failures.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeConnection,
			"registry request failed", "check your network connection and registry.cu_url")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeConnection, "reading registry response", "")
	}

	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeRegistryError,
			"registry returned an unreadable response", "")
	}
	return nil
}

func statusError(status int, body []byte) error {
	if status < 300 {
		return nil
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	msg := fmt.Sprintf("registry returned HTTP %d", status)
	if text != "" {
		msg += ": " + text
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.KindAuthorization, apperr.CodeSignatureRejected, msg,
			"check that your wallet is allowed to write to this registry")
	case status == http.StatusNotFound:
		return apperr.New(apperr.KindNetwork, apperr.CodeNotFound, msg, "")
	case status >= 500:
		return apperr.New(apperr.KindNetwork, apperr.CodeGateway, msg, "")
	default:
		return apperr.New(apperr.KindNetwork, apperr.CodeBadRequest, msg, "")
	}
}

// isRetryable decides which read failures are worth another attempt.
// Timeouts are excluded: an unresponsive registry is not transiently busy.
func isRetryable(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeConnection, apperr.CodeGateway:
		return true
	default:
		return false
	}
}
