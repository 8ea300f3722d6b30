package torn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tornwatch/torntrainer/pkg/ratelimit"
)

// DefaultBaseURL is the fixed upstream host.
const DefaultBaseURL = "https://api.torn.com"

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 5
	authFailureLimit   = 3
	redactionMarker    = "key=REDACTED"
)

// authErrorCodes are the application-level error codes the upstream uses for
// auth/permission failures, sometimes under HTTP 200.
var authErrorCodes = map[int]bool{1: true, 2: true, 10: true, 11: true}

// Audit outcome classifications, one per attempt record.
const (
	OutcomeSuccess            = "success"
	OutcomeTransientRetry     = "transient-retry"
	OutcomeTransientExhausted = "transient-exhausted"
	OutcomeAuthFailure        = "auth-failure"
	OutcomePermanentError     = "permanent-error"
)

// netFailureStatus is the audit status sentinel for transport-level failures.
const netFailureStatus = -1

// StateStore tracks the durable credential disable latch. It is consulted
// fresh at the top of every call because another process sharing the storage
// may have disabled the key.
type StateStore interface {
	IsKeyDisabled(ctx context.Context, keyID string) (bool, error)
	MarkKeyDisabled(ctx context.Context, keyID, apiKey string) error
}

// AuditSink durably records each attempted call. Writes are best-effort:
// a failed audit write is logged, never escalated.
type AuditSink interface {
	LogAction(ctx context.Context, kind string, payload, result map[string]any) error
}

// Config carries Client construction parameters. Zero values fall back to
// safe defaults.
type Config struct {
	APIKey            string
	UserID            string
	BaseURL           string
	MaxRequestsPerMin int
	MinSpacing        time.Duration
	Timeout           time.Duration
	MaxAttempts       int

	// Limiter overrides the per-process token bucket, e.g. with a
	// ratelimit.RedisBucket shared across processes.
	Limiter ratelimit.Limiter

	Logger *zap.Logger
}

// Client issues rate-limited, fault-tolerant calls against the upstream API.
// Safe for concurrent use by multiple pollers.
type Client struct {
	baseURL     string
	apiKey      string
	userID      string
	http        *http.Client
	limiter     ratelimit.Limiter
	store       StateStore
	audit       AuditSink
	log         *zap.Logger
	backoff     *ExponentialBackoff
	maxAttempts int

	mu           sync.Mutex
	authFailures int
	closed       bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client. The token bucket is sized from MaxRequestsPerMin
// (clamped to [1,100]) with a refill rate spreading that budget over a
// minute, matching the upstream's documented limit.
func New(cfg Config, store StateStore, audit AuditSink) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limiter := cfg.Limiter
	if limiter == nil {
		capacity := cfg.MaxRequestsPerMin
		if capacity < 1 {
			capacity = 1
		}
		if capacity > 100 {
			capacity = 100
		}
		limiter = ratelimit.NewTokenBucket(capacity, float64(capacity)/60.0, cfg.MinSpacing)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		userID:      cfg.UserID,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
		store:       store,
		audit:       audit,
		log:         cfg.Logger,
		backoff:     DefaultBackoff(),
		maxAttempts: cfg.MaxAttempts,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// keyID identifies the credential/account pair in the durable latch.
func (c *Client) keyID() string {
	if c.userID != "" {
		return c.userID
	}
	return "default"
}

// Request performs one logical API call: GET {base}/{section}[/{idPart}]
// with the credential, optional selections and extra query parameters.
//
// Transient failures (transport errors, 429, 5xx) are retried with
// exponential jittered backoff up to the attempt budget. 401/403 and
// auth-coded error payloads count toward a three-strikes durable disable of
// the credential. Every attempt writes one redacted audit record.
func (c *Client) Request(ctx context.Context, section, idPart, selections string, extra map[string]string) (Payload, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	disabled, err := c.store.IsKeyDisabled(ctx, c.keyID())
	if err != nil {
		return nil, fmt.Errorf("credential state: %w", err)
	}
	if disabled {
		return nil, &AuthDisabledError{KeyID: c.keyID()}
	}

	target := c.buildURL(section, idPart, selections, extra)
	redacted := redactKey(target)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		waitStart := time.Now()
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		limiterWaitSeconds.Observe(time.Since(waitStart).Seconds())

		status, body, err := c.exchange(ctx, target)
		if err != nil {
			attemptsTotal.WithLabelValues("network").Inc()
			if attempt >= c.maxAttempts {
				c.record(ctx, redacted, netFailureStatus, map[string]any{"error": err.Error()}, OutcomeTransientExhausted)
				requestsTotal.WithLabelValues(section, "network-error").Inc()
				return nil, &NetworkError{Attempts: attempt, Err: err}
			}
			c.record(ctx, redacted, netFailureStatus, map[string]any{"error": err.Error()}, OutcomeTransientRetry)
			c.log.Warn("api network failure, retrying",
				zap.String("url", redacted), zap.Int("attempt", attempt), zap.Error(err))
			if err := c.sleep(ctx, c.backoff.Next(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		data := decodePayload(body)
		c.log.Info("api response",
			zap.Int("status", status), zap.String("url", redacted), zap.Int("attempt", attempt))

		if status == http.StatusTooManyRequests || status >= 500 {
			attemptsTotal.WithLabelValues("transient").Inc()
			if attempt >= c.maxAttempts {
				c.record(ctx, redacted, status, map[string]any{"result": data}, OutcomeTransientExhausted)
				requestsTotal.WithLabelValues(section, "transient-exhausted").Inc()
				return nil, &TransientExhaustedError{StatusCode: status, Attempts: attempt}
			}
			c.record(ctx, redacted, status, map[string]any{"result": data}, OutcomeTransientRetry)
			if err := c.sleep(ctx, c.backoff.Next(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			attemptsTotal.WithLabelValues("auth").Inc()
			c.record(ctx, redacted, status, map[string]any{"result": data}, OutcomeAuthFailure)
			c.recordAuthFailure(ctx)
			requestsTotal.WithLabelValues(section, "auth-failure").Inc()
			return nil, &StatusError{StatusCode: status}
		}

		// The upstream reports some auth failures as error payloads under
		// HTTP 200. These count toward the disable tally but the payload is
		// still returned to the caller.
		if apiErr := data.Err(); apiErr != nil && authErrorCodes[apiErr.Code] {
			attemptsTotal.WithLabelValues("auth").Inc()
			c.record(ctx, redacted, status, map[string]any{"result": data}, OutcomeAuthFailure)
			c.recordAuthFailure(ctx)
			requestsTotal.WithLabelValues(section, "auth-failure").Inc()
			return data, nil
		}

		outcome := OutcomeSuccess
		label := "success"
		if status >= 400 {
			outcome = OutcomePermanentError
			label = "permanent-error"
		}
		attemptsTotal.WithLabelValues(label).Inc()
		c.record(ctx, redacted, status, map[string]any{"result": data}, outcome)
		c.resetAuthFailures()
		requestsTotal.WithLabelValues(section, label).Inc()
		return data, nil
	}

	// Unreachable: every exit path above returns inside the loop.
	return nil, &TransientExhaustedError{Attempts: c.maxAttempts}
}

// buildURL assembles the target including the credential query parameter.
func (c *Client) buildURL(section, idPart, selections string, extra map[string]string) string {
	path := "/" + section
	if idPart != "" {
		path += "/" + idPart
	}
	params := url.Values{}
	params.Set("key", c.apiKey)
	if selections != "" {
		params.Set("selections", selections)
	}
	for k, v := range extra {
		params.Set(k, v)
	}
	return c.baseURL + path + "?" + params.Encode()
}

// exchange performs one HTTP attempt under the per-call timeout.
func (c *Client) exchange(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// record writes one Call Attempt Record. Best-effort: audit failures must
// not break functional behavior.
func (c *Client) record(ctx context.Context, redactedURL string, status int, result map[string]any, outcome string) {
	if c.audit == nil {
		return
	}
	res := map[string]any{"status": status, "outcome": outcome}
	for k, v := range result {
		res[k] = v
	}
	if err := c.audit.LogAction(ctx, "api_request", map[string]any{"url": redactedURL}, res); err != nil {
		c.log.Error("failed to write audit record", zap.Error(err))
	}
}

// recordAuthFailure bumps the in-process counter and latches the credential
// off once the threshold is reached. The counter is volatile by design; the
// latch is durable.
func (c *Client) recordAuthFailure(ctx context.Context) {
	authFailuresTotal.Inc()
	c.mu.Lock()
	c.authFailures++
	failures := c.authFailures
	c.mu.Unlock()
	if failures < authFailureLimit {
		return
	}
	if err := c.store.MarkKeyDisabled(ctx, c.keyID(), c.apiKey); err != nil {
		c.log.Error("failed to mark api key disabled", zap.String("key_id", c.keyID()), zap.Error(err))
		return
	}
	c.log.Warn("api key marked disabled after repeated auth failures",
		zap.String("key_id", c.keyID()), zap.Int("failures", failures))
}

func (c *Client) resetAuthFailures() {
	c.mu.Lock()
	c.authFailures = 0
	c.mu.Unlock()
}

// Close releases underlying network resources. Safe to call more than once;
// calls made after Close return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.http.CloseIdleConnections()
	return nil
}

// redactKey strips everything after the credential-bearing query segment so
// the key value never reaches a log line or audit record.
func redactKey(target string) string {
	if idx := strings.Index(target, "key="); idx >= 0 {
		return target[:idx] + redactionMarker
	}
	return target
}
