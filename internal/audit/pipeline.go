// Package audit implements a non-blocking in-memory event buffer, shipped
// in batches to the control plane with at-least-once delivery, mirrored to
// a durable buffer file for crash resilience, and bounded in memory.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
)

// EventShipper sends a batch of events to the control plane, returning a
// non-nil error on any non-2xx response or transport failure.
type EventShipper interface {
	ShipEvents(ctx context.Context, orgID string, events []domain.AuditEvent) error
}

// BufferGauges lets the pipeline report backpressure without importing the
// metrics package directly (accept interfaces, per repo convention).
type BufferGauges interface {
	SetAuditBufferFill(n int)
	IncAuditDropped(reason string)
}

// FlushResult tells the caller what a flush actually did.
type FlushResult string

const (
	FlushEmpty    FlushResult = "empty"
	FlushShipped  FlushResult = "shipped"
	FlushPersisted FlushResult = "persisted"
	FlushFailed   FlushResult = "failed"
)

// Config bundles the pipeline's tunables.
type Config struct {
	BatchSize              int           // auditBatchSize, default 100
	FlushInterval          time.Duration // auditFlushIntervalMs, default 30s
	MaxBufferSize          int           // maxAuditBufferSize (config default 10000); 0 makes Enqueue a no-op
	BufferPath             string        // DurableAuditBuffer path
	UserID                 string
	OrgID                  string
	AuditLevel             domain.AuditLevel
	ControlPlaneConfigured bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MaxBufferSize < 0 {
		c.MaxBufferSize = 0
	}
	return c
}

// Pipeline implements the AuditPipeline public contract.
type Pipeline struct {
	mu           sync.Mutex
	buf          []domain.AuditEvent
	nextSeq      uint64
	cfg          Config
	accessToken  string
	auditLevel   domain.AuditLevel
	cpConfigured bool

	overflowWarned bool

	// flushMu single-flights Flush: the periodic ticker, Stop's final
	// flush, and every batch-size-triggered goroutine spawned by Enqueue
	// can all race to call it, and without serializing them a later
	// batch could reach the control plane before an earlier one finishes
	// retrying, delivering events out of enqueue order.
	flushMu sync.Mutex

	shipper EventShipper
	gauges  BufferGauges
	logger  *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New constructs a Pipeline and performs crash recovery by loading any
// events left on disk from a prior process.
func New(cfg Config, shipper EventShipper, gauges BufferGauges, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:          cfg,
		auditLevel:   cfg.AuditLevel,
		cpConfigured: cfg.ControlPlaneConfigured,
		shipper:      shipper,
		gauges:       gauges,
		logger:       logger.Named("audit"),
		stopCh:       make(chan struct{}),
	}

	recovered := loadDurableBuffer(cfg.BufferPath, p.logger)
	for _, e := range recovered {
		p.buf = append(p.buf, e)
	}
	p.enforceCapacityLocked()
	p.reportFillLocked()
	if n := len(recovered); n > 0 {
		p.logger.Info("recovered audit events from durable buffer", zap.Int("count", n))
	}
	return p
}

// Enqueue stamps a UUID event ID, userId/orgId/timestamp, strips metadata
// when the audit level is not "full", is a no-op when the level is "off",
// and never blocks the caller.
func (p *Pipeline) Enqueue(partial domain.AuditEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.auditLevel == domain.AuditOff {
		return
	}
	if p.cfg.MaxBufferSize == 0 {
		if p.logger != nil {
			p.logger.Warn("audit event dropped: buffer capacity is zero")
		}
		return
	}

	e := partial
	e.EventID = uuid.NewString()
	e.UserID = p.cfg.UserID
	e.OrgID = p.cfg.OrgID
	e.TimestampMs = time.Now().UnixMilli()
	if p.auditLevel != domain.AuditFull {
		e.Metadata = nil
	}
	e.EnqueueSeq = p.nextSeq
	p.nextSeq++

	p.buf = append(p.buf, e)
	p.enforceCapacityLocked()
	p.reportFillLocked()

	if p.cfg.BatchSize > 0 && len(p.buf) >= p.cfg.BatchSize {
		go p.Flush(context.Background())
	}
}

// enforceCapacityLocked drops the oldest events once the buffer exceeds
// MaxBufferSize, with a one-shot warning at 80% that rearms only after the
// length falls back under 80%.
func (p *Pipeline) enforceCapacityLocked() {
	max := p.cfg.MaxBufferSize
	if max <= 0 {
		return
	}

	if len(p.buf) > max {
		dropped := len(p.buf) - max
		p.buf = p.buf[dropped:]
		if p.gauges != nil {
			p.gauges.IncAuditDropped("overflow")
		}
		if p.logger != nil {
			p.logger.Warn("audit buffer overflow, dropped oldest events", zap.Int("dropped", dropped))
		}
	}

	ratio := float64(len(p.buf)) / float64(max)
	if ratio >= 0.8 {
		if !p.overflowWarned {
			p.overflowWarned = true
			if p.logger != nil {
				p.logger.Warn("audit buffer above 80% capacity", zap.Int("len", len(p.buf)), zap.Int("max", max))
			}
		}
	} else {
		p.overflowWarned = false
	}
}

func (p *Pipeline) reportFillLocked() {
	if p.gauges != nil {
		p.gauges.SetAuditBufferFill(len(p.buf))
	}
}

// Flush ships the current batch, falling back to disk persistence when the
// control plane is unconfigured or the ship fails, and preserving enqueue
// order across retries by prepending an unshipped batch back onto the
// buffer. flushMu serializes the whole method so two triggers (the size
// threshold in Enqueue, the periodic ticker, Stop's drain) never ship
// concurrently and race each other out of enqueue order.
func (p *Pipeline) Flush(ctx context.Context) FlushResult {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	configured := p.cpConfigured
	token := p.accessToken
	orgID := p.cfg.OrgID
	p.reportFillLocked()
	p.mu.Unlock()

	if len(batch) == 0 {
		return FlushEmpty
	}

	if !configured {
		// Disk-only mode never gets an acknowledgment, so nothing here is
		// safe to drop from memory: keep the batch buffered (still subject
		// to the normal capacity bound) and mirror the whole buffer to
		// disk. Persisting only this detached batch would let the next
		// flush's overwrite erase everything persisted before it, losing
		// events that were never shipped.
		p.requeue(batch)
		return FlushPersisted
	}

	err := p.ship(ctx, orgID, token, batch)
	if err == nil {
		clearDurableBuffer(p.cfg.BufferPath, p.logger)
		return FlushShipped
	}

	if p.logger != nil {
		p.logger.Warn("audit flush failed, re-queueing batch", zap.Error(err), zap.Int("batch_size", len(batch)))
	}

	p.requeue(batch)
	return FlushFailed
}

// requeue prepends batch back onto the buffer, preserving enqueue order,
// enforces capacity, and persists the resulting buffer in full so the
// durable file always holds the complete set of events not yet
// acknowledged rather than just the most recently detached batch.
func (p *Pipeline) requeue(batch []domain.AuditEvent) {
	p.mu.Lock()
	p.buf = append(batch, p.buf...)
	p.enforceCapacityLocked()
	merged := append([]domain.AuditEvent(nil), p.buf...)
	p.reportFillLocked()
	p.mu.Unlock()

	persistDurableBuffer(p.cfg.BufferPath, merged, p.logger)
}

func (p *Pipeline) ship(ctx context.Context, orgID, token string, batch []domain.AuditEvent) error {
	if p.shipper == nil {
		return nil
	}
	_ = token // the shipper reads the current token itself via UpdateAccessToken
	return p.shipper.ShipEvents(ctx, orgID, batch)
}

// UpdateAccessToken is hot reconfiguration, called by SessionKeeper's
// rotation callback.
func (p *Pipeline) UpdateAccessToken(token string) {
	p.mu.Lock()
	p.accessToken = token
	p.mu.Unlock()
}

// UpdateAuditLevel is hot reconfiguration, called on policy refresh.
func (p *Pipeline) UpdateAuditLevel(level domain.AuditLevel) {
	p.mu.Lock()
	p.auditLevel = level
	p.mu.Unlock()
}

// SetControlPlaneConfigured flips whether flush ships over HTTP or
// persists to disk only.
func (p *Pipeline) SetControlPlaneConfigured(configured bool) {
	p.mu.Lock()
	p.cpConfigured = configured
	p.mu.Unlock()
}

// Start launches the periodic flush timer.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// Stop cancels the timer and performs one final flush.
func (p *Pipeline) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.Flush(context.Background())
}

// Len reports the current in-memory buffer length, for tests and the
// debug server's /status endpoint.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
