package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/clock"
	"github.com/permaskills/skills/internal/logging"
	"github.com/permaskills/skills/internal/retry"
)

// Defaults for the storage client.
const (
	DefaultFreeTierBytes         = 100 * 1024
	DefaultAttempts              = 3
	DefaultBaseDelay             = time.Second
	DefaultTimeout               = 2 * time.Minute
	DefaultPollInterval          = 30 * time.Second
	DefaultDurabilityTimeout     = 5 * time.Minute
	DefaultRequiredConfirmations = 10
)

// Client talks to a storage gateway and its subsidized bundler.
type Client struct {
	gatewayURL string
	bundlerURL string
	httpClient *http.Client
	logger     *slog.Logger
	clock      clock.Clock

	appName    string
	appVersion string

	freeTierBytes int64
	attempts      int
	baseDelay     time.Duration
	timeout       time.Duration
	pollInterval  time.Duration
	confirmations int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger for retries and polling.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock sets the clock used for backoff and polling.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithApp sets the App-Name and App-Version upload tags.
func WithApp(name, version string) Option {
	return func(cl *Client) {
		cl.appName = name
		cl.appVersion = version
	}
}

// WithFreeTier sets the size below which uploads use the bundler.
func WithFreeTier(bytes int64) Option {
	return func(cl *Client) { cl.freeTierBytes = bytes }
}

// WithRetry overrides the attempt count and the initial backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(cl *Client) {
		cl.attempts = attempts
		cl.baseDelay = base
	}
}

// WithTimeout bounds each Upload and Download call.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithDurability sets the status poll interval and the confirmation count
// that counts as durable.
func WithDurability(interval time.Duration, confirmations int) Option {
	return func(cl *Client) {
		cl.pollInterval = interval
		cl.confirmations = confirmations
	}
}

// New creates a Client. The bundler URL may be empty, in which case every
// upload takes the paid path.
func New(gatewayURL, bundlerURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
			"gateway.url is not configured", "pass --gateway or run 'skills config set gateway.url <url>'")
	}
	c := &Client{
		gatewayURL:    strings.TrimRight(gatewayURL, "/"),
		bundlerURL:    strings.TrimRight(bundlerURL, "/"),
		httpClient:    http.DefaultClient,
		logger:        logging.Discard(),
		clock:         clock.Real(),
		appVersion:    "dev",
		freeTierBytes: DefaultFreeTierBytes,
		attempts:      DefaultAttempts,
		baseDelay:     DefaultBaseDelay,
		timeout:       DefaultTimeout,
		pollInterval:  DefaultPollInterval,
		confirmations: DefaultRequiredConfirmations,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// policy returns the retry policy for one operation.
func (c *Client) policy(op string) retry.Policy {
	p := retry.Exponential(c.attempts, c.baseDelay, Retryable)
	p.Clock = c.clock
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("storage request failed, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
	}
	return p
}

// Retryable reports whether a transport error is transient: connection
// failures, attempt-level timeouts and 502/503/504 responses.
func Retryable(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeConnection, apperr.CodeGateway, apperr.CodeTimeout:
		return true
	default:
		return false
	}
}

// send performs req and returns the response for the caller to consume.
// Non-2xx statuses are converted to classified errors and the body closed.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, string(body))
	}
	return resp, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeTimeout,
			"storage request timed out", "the gateway is slow or unreachable; try again later")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeTimeout, "storage request timed out", "")
	}
	return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeConnection,
		"storage request failed", "check your network connection and gateway.url")
}

func statusError(status int, body string) error {
	body = strings.TrimSpace(body)
	msg := fmt.Sprintf("gateway returned HTTP %d", status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusNotFound:
		return apperr.New(apperr.KindNetwork, apperr.CodeNotFound, msg, "")
	case status == http.StatusPaymentRequired:
		return apperr.New(apperr.KindAuthorization, apperr.CodeInsufficientFunds, msg,
			"fund your wallet and retry")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.KindAuthorization, apperr.CodeSignatureRejected, msg, "")
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout:
		return apperr.New(apperr.KindNetwork, apperr.CodeGateway, msg, "")
	case status >= 500:
		return apperr.New(apperr.KindNetwork, apperr.CodeServerError, msg, "")
	default:
		return apperr.New(apperr.KindNetwork, apperr.CodeBadRequest, msg, "")
	}
}
