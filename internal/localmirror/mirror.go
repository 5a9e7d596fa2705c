// Package localmirror implements an optional cross-process propagation
// path: when multiple assistant processes run for the same user (a
// primary session plus spawned subagents, per the tool-group table's
// group:sessions selectors), the kill-switch/override state Heartbeat
// applies is additionally published over a Redis channel so sibling
// processes update their EnforcerState immediately rather than waiting
// out their own heartbeat interval.
//
// This is additive observability/propagation only: it never itself
// authorizes or denies a tool call. EnforcerState remains the single
// source of truth read by Authorize (spec.md §5).
//
// Grounded on the teacher's internal/engine/killswitch_listener.go
// (StartListener's subscribe loop) and internal/engine/resilience.go
// (ListenStateResilient's reconnect handling), merged into one
// resilient subscribe loop that reconnects on channel closure instead of
// returning. There is no initial sync and no distributed lock: a process
// only sees state published after it has subscribed.
package localmirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

// Message is the wire shape published on the mirror channel.
type Message struct {
	KillSwitch domain.KillSwitchState `json:"killSwitch"`
	Override   domain.OfflineOverride `json:"override"`
}

// Mirror publishes and subscribes to governance transitions over Redis
// pub/sub. A Mirror constructed with a nil client is inert: Publish and
// Start are no-ops, matching spec.md's "default: disabled, zero
// behavioral change".
type Mirror struct {
	rdb     *redis.Client
	channel string
	state   *state.EnforcerState
	logger  *zap.Logger

	stopCh chan struct{}
}

// New constructs a Mirror. addr empty disables it entirely.
func New(addr, channel string, st *state.EnforcerState, logger *zap.Logger) *Mirror {
	m := &Mirror{
		channel: channel,
		state:   st,
		logger:  logger.Named("localmirror"),
		stopCh:  make(chan struct{}),
	}
	if addr == "" {
		return m
	}
	if m.channel == "" {
		m.channel = "clawforge:governance"
	}
	m.rdb = redis.NewClient(&redis.Options{Addr: addr})
	return m
}

// Enabled reports whether this Mirror is backed by a real Redis client.
func (m *Mirror) Enabled() bool { return m.rdb != nil }

// Publish broadcasts the current kill-switch/override state to sibling
// processes. A publish failure is logged and otherwise ignored: this path
// is propagation, not the source of truth.
func (m *Mirror) Publish(ctx context.Context, ks domain.KillSwitchState, override domain.OfflineOverride) {
	if m.rdb == nil {
		return
	}
	payload, err := json.Marshal(Message{KillSwitch: ks, Override: override})
	if err != nil {
		return
	}
	if err := m.rdb.Publish(ctx, m.channel, payload).Err(); err != nil && m.logger != nil {
		m.logger.Warn("failed to publish governance transition to siblings", zap.Error(err))
	}
}

// Start launches the resilient subscribe loop in a goroutine. A no-op
// when the mirror is disabled.
func (m *Mirror) Start(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	go m.listenResilient(ctx)
}

// Stop signals the subscribe loop to exit, whether it is receiving or
// waiting to reconnect.
func (m *Mirror) Stop() {
	if m.rdb == nil {
		return
	}
	close(m.stopCh)
}

// listenResilient subscribes to the mirror channel and applies every
// message to the local EnforcerState, reconnecting on any subscribe
// failure or channel closure rather than giving up.
func (m *Mirror) listenResilient(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		pubsub := m.rdb.Subscribe(ctx, m.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			if m.logger != nil {
				m.logger.Warn("failed to subscribe to governance mirror channel", zap.Error(err))
			}
			pubsub.Close()
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-m.stopCh:
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				m.apply(msg.Payload)
			}
		}
		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func (m *Mirror) apply(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		if m.logger != nil {
			m.logger.Warn("skipping malformed governance mirror message")
		}
		return
	}
	m.state.SetKillSwitch(msg.KillSwitch)
	m.state.SetOverride(msg.Override)
}
