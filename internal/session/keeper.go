// Package session implements SessionKeeper (spec.md §4.5): proactive
// token refresh before expiry, with retry and fan-out to consumers.
//
// Grounded directly on the teacher's internal/engine/reliability.go
// (retry.New(...).Do(...) with a DelayType callback), with the schedule
// changed from gobreaker's generic exponential backoff to the spec's fixed
// 5s/10s/20s, and on internal/engine/warmup.go's distributed-lock shape,
// reused here without Redis as the in-process reentrancy guard.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/controlplane"
	"github.com/openclaw/clawforge/internal/domain"
)

const (
	checkInterval    = 60 * time.Second
	refreshThreshold = 5 * time.Minute
	maxAttempts      = 3
)

var backoffSchedule = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// Refresher is the narrow control-plane surface SessionKeeper needs.
type Refresher interface {
	ExchangeToken(ctx context.Context, grant controlplane.GrantType, value string) (*controlplane.AuthResponse, error)
}

// Gauges lets the Keeper report refresh outcomes without importing the
// metrics package directly.
type Gauges interface {
	IncSessionRefresh(outcome string)
}

// Keeper implements the SessionKeeper component.
type Keeper struct {
	mu      sync.Mutex
	session *domain.SessionTokens
	active  bool // controlPlaneUrl configured AND a refresh token is present

	storePath string
	refresher Refresher
	onRefresh func(*domain.SessionTokens)
	gauges    Gauges
	logger    *zap.Logger

	refreshing atomic.Bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
	now        func() time.Time
}

// New constructs a Keeper. It is a no-op (per spec.md §4.5) when
// controlPlaneConfigured is false or initial.RefreshToken is empty.
func New(initial *domain.SessionTokens, storePath string, controlPlaneConfigured bool, refresher Refresher, onRefresh func(*domain.SessionTokens), logger *zap.Logger) *Keeper {
	k := &Keeper{
		session:   initial,
		storePath: storePath,
		refresher: refresher,
		onRefresh: onRefresh,
		logger:    logger.Named("session"),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	k.active = controlPlaneConfigured && initial != nil && initial.RefreshToken != ""
	return k
}

// WithGauges attaches a metrics sink, returning the same Keeper for
// chaining at construction time.
func (k *Keeper) WithGauges(g Gauges) *Keeper {
	k.gauges = g
	return k
}

// Current returns the in-memory session snapshot.
func (k *Keeper) Current() *domain.SessionTokens {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.session
}

// Start launches the periodic expiry-check task. A no-op Keeper still
// launches the ticker so Stop() is always safe to call symmetrically, but
// checkOnce exits immediately each tick.
func (k *Keeper) Start() {
	k.wg.Add(1)
	go k.run()
}

func (k *Keeper) run() {
	defer k.wg.Done()
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.checkOnce(context.Background())
		case <-k.stopCh:
			return
		}
	}
}

func (k *Keeper) Stop() {
	k.once.Do(func() { close(k.stopCh) })
	k.wg.Wait()
}

// checkOnce is the per-tick logic: skip if inactive, skip if a refresh is
// already in flight (reentrancy guard), otherwise refresh when within
// refreshThreshold of expiry.
func (k *Keeper) checkOnce(ctx context.Context) {
	if !k.active {
		return
	}
	if !k.refreshing.CompareAndSwap(false, true) {
		return // a refresh from a previous tick is still running
	}
	defer k.refreshing.Store(false)

	k.mu.Lock()
	sess := k.session
	k.mu.Unlock()
	if sess == nil {
		return
	}

	remaining := time.UnixMilli(sess.ExpiresAtMs).Sub(k.now())
	if remaining > refreshThreshold {
		return
	}

	k.refresh(ctx, sess)
}

func (k *Keeper) refresh(ctx context.Context, sess *domain.SessionTokens) {
	var resp *controlplane.AuthResponse

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			var tErr *controlplane.ThrottleError
			if ok := asThrottle(err, &tErr); ok {
				return tErr.RetryAfter
			}
			idx := int(n)
			if idx >= len(backoffSchedule) {
				idx = len(backoffSchedule) - 1
			}
			return backoffSchedule[idx]
		}),
	).Do(func() error {
		r, err := k.refresher.ExchangeToken(ctx, controlplane.GrantRefreshToken, sess.RefreshToken)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	if err != nil {
		if k.gauges != nil {
			k.gauges.IncSessionRefresh("failure")
		}
		if k.logger != nil {
			k.logger.Error("session refresh failed after all attempts, retrying next tick", zap.Error(err))
		}
		return
	}
	if k.gauges != nil {
		k.gauges.IncSessionRefresh("success")
	}

	next := &domain.SessionTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAtMs:  resp.ExpiresAtMs,
		UserID:       resp.UserID,
		OrgID:        resp.OrgID,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = sess.RefreshToken // server may choose not to rotate
	}

	crossCheckExpiry(next.AccessToken, next.ExpiresAtMs, k.logger)

	if err := Save(k.storePath, fileTokens{
		AccessToken: next.AccessToken, RefreshToken: next.RefreshToken,
		ExpiresAtMs: next.ExpiresAtMs, UserID: next.UserID, OrgID: next.OrgID,
	}); err != nil && k.logger != nil {
		k.logger.Warn("failed to persist refreshed session to disk", zap.Error(err))
	}

	k.mu.Lock()
	k.session = next
	k.mu.Unlock()

	if k.onRefresh != nil {
		k.onRefresh(next)
	}
}

func asThrottle(err error, target **controlplane.ThrottleError) bool {
	for err != nil {
		if t, ok := err.(*controlplane.ThrottleError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
