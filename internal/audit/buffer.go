package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
)

// loadDurableBuffer reads the durable audit buffer file: one JSON-encoded
// AuditEvent per line. Malformed lines are skipped silently; a missing
// file is not an error (first run).
func loadDurableBuffer(path string, logger *zap.Logger) []domain.AuditEvent {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.AuditEvent
		if err := json.Unmarshal(line, &e); err != nil {
			if logger != nil {
				logger.Warn("skipping malformed audit buffer line")
			}
			continue
		}
		events = append(events, e)
	}
	return events
}

// persistDurableBuffer rewrites the durable audit buffer file in full
// (overwrite, not append), owner-only permissions. Failure is logged and
// otherwise ignored: durability here is best-effort.
func persistDurableBuffer(path string, events []domain.AuditEvent, logger *zap.Logger) {
	if path == "" {
		return
	}
	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0o700)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to open audit buffer for write", zap.Error(err))
		}
		return
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	var writeErr error
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writeErr = w.Flush()
	}
	closeErr := f.Close()

	if writeErr != nil || closeErr != nil {
		if logger != nil {
			logger.Warn("failed to persist audit buffer", zap.Error(writeErr), zap.NamedError("close_err", closeErr))
		}
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil && logger != nil {
		logger.Warn("failed to finalize audit buffer write", zap.Error(err))
	}
}

// clearDurableBuffer truncates the file to empty after a successful ship.
func clearDurableBuffer(path string, logger *zap.Logger) {
	persistDurableBuffer(path, nil, logger)
}
