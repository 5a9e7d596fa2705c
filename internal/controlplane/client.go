// Package controlplane implements the REST client for the control plane's
// token exchange, heartbeat, and audit-shipping endpoints. Every call goes
// through a rate limiter gate, then a circuit breaker, then the request
// itself.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openclaw/clawforge/internal/domain"
)

// Client talks to the control plane.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New constructs a Client. baseURL empty means "control plane not
// configured"; callers check this before constructing dependent components
// that require it, such as Heartbeat and SessionKeeper.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 10),
		logger:  logger.Named("controlplane"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "control-plane",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateAccessToken is hot reconfiguration, invoked by SessionKeeper's
// rotation callback.
func (c *Client) UpdateAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do executes req through the rate limiter and circuit breaker. These are
// suspension points and never run on the Enforcer's hot path.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
			return nil, &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("429 from %s", req.URL.Path)}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return nil, &UnauthenticatedError{}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("control plane %s returned %d: %s", req.URL.Path, resp.StatusCode, string(body))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 5 * time.Second
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// ExchangeToken implements POST /api/v1/auth/exchange.
func (c *Client) ExchangeToken(ctx context.Context, grant GrantType, value string) (*AuthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/auth/exchange", map[string]string{
		"grantType": string(grant),
		"value":     value,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	return &out, nil
}

// Heartbeat implements GET /api/v1/heartbeat/{orgId}/{userId}.
func (c *Client) Heartbeat(ctx context.Context, orgID, userID string) (*HeartbeatResponse, error) {
	path := fmt.Sprintf("/api/v1/heartbeat/%s/%s", orgID, userID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode heartbeat response: %w", err)
	}
	return &out, nil
}

// ShipEvents implements POST /api/v1/audit/{orgId}/events and satisfies
// audit.EventShipper. Every call carries a fresh Idempotency-Key, scoping
// it to this one HTTP attempt so a transport-level resend of the same
// request (a proxy retry, a client timeout that actually succeeded
// server-side) isn't double-applied. It is not a stable identifier across
// application-level retries: a batch that fails to ship gets requeued and
// re-batched with whatever else has since accumulated, so the next
// ShipEvents call is a different set of events under a different key.
// Cross-attempt dedup for spec.md §4.2's tolerated duplicate delivery
// relies on each event's own EventID, not this key.
func (c *Client) ShipEvents(ctx context.Context, orgID string, events []domain.AuditEvent) error {
	path := fmt.Sprintf("/api/v1/audit/%s/events", orgID)
	batchID := uuid.NewString()
	req, err := c.newRequest(ctx, http.MethodPost, path, auditEventsRequest{BatchID: batchID, Events: events})
	if err != nil {
		return err
	}
	req.Header.Set("Idempotency-Key", batchID)
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
