// Package failurecounter implements the per-storage-server hysteresis
// described in spec.md section 4.1: suppress log spam from a flapping
// probe while still surfacing persistent failures.
package failurecounter

import (
	"fmt"

	"go.uber.org/zap"
)

// Mode selects which field of a StorageServer's probe state this counter
// treats as the failure "kind" — an OS errno for TCP probes, or an HTTP
// status code for HTTP probes (spec.md section 4.1).
type Mode int

const (
	ModeErrno Mode = iota
	ModeHTTPStatus
)

// State is the mutable hysteresis state attached to one storage server.
// It mirrors the probe-state fields groupstore.StorageServer carries so
// that a Counter can be built directly over a live StorageServer.
type State struct {
	FailCount     int
	LastErrno     int
	LastHTTPCode  int
	ErrorInfoText string
}

// Counter implements spec.md section 4.1's recordSuccess/recordFailure
// state machine. It operates on a caller-owned *State so HealthProber can
// wrap a groupstore.StorageServer's probe-state fields directly — no
// other writer ever touches those fields concurrently (spec.md section 5).
type Counter struct {
	mode   Mode
	state  *State
	logger *zap.Logger
	label  string // identifies the server in log lines, e.g. "group/ip"
}

func New(mode Mode, state *State, logger *zap.Logger, label string) *Counter {
	return &Counter{mode: mode, state: state, logger: logger, label: label}
}

// RecordSuccess implements spec.md section 4.1's recordSuccess(). A prior
// failure streak of more than one attempt gets its own summary line (the
// same shape RecordFailure emits on a kind change) before the recovery
// is logged, so the failing kind's final count and detail are not lost.
func (c *Counter) RecordSuccess() {
	if c.state.FailCount > 1 {
		c.logger.Error("failed after attempts",
			zap.String("server", c.label),
			zap.Int("attempts", c.state.FailCount),
			zap.String("error_info", c.state.ErrorInfoText))
	}
	if c.state.FailCount > 0 {
		c.logger.Info("alive after failed attempts",
			zap.String("server", c.label),
			zap.Int("attempts", c.state.FailCount))
		c.state.FailCount = 0
	}
}

// RecordFailure implements spec.md section 4.1's recordFailure(kind, detail).
// kind is an errno in ModeErrno, or an HTTP status code in ModeHTTPStatus.
func (c *Counter) RecordFailure(kind int, detail string) {
	changed := c.kindChanged(kind)

	if changed {
		if c.state.FailCount > 1 {
			c.logger.Error("failed after attempts",
				zap.String("server", c.label),
				zap.Int("attempts", c.state.FailCount),
				zap.String("error_info", c.state.ErrorInfoText))
		}
		c.state.ErrorInfoText = detail
		c.setKind(kind)
		c.state.FailCount = 1
		c.logger.Error("probe failed",
			zap.String("server", c.label),
			zap.String("error_info", detail),
			zap.String("kind", c.kindLabel(kind)))
		return
	}

	c.state.FailCount++
}

func (c *Counter) kindChanged(kind int) bool {
	switch c.mode {
	case ModeHTTPStatus:
		return kind != c.state.LastHTTPCode
	default:
		return kind != c.state.LastErrno
	}
}

func (c *Counter) setKind(kind int) {
	switch c.mode {
	case ModeHTTPStatus:
		c.state.LastHTTPCode = kind
	default:
		c.state.LastErrno = kind
	}
}

func (c *Counter) kindLabel(kind int) string {
	if c.mode == ModeHTTPStatus {
		return fmt.Sprintf("status=%d", kind)
	}
	return fmt.Sprintf("errno=%d", kind)
}

// SummarizeIfFailing emits the shutdown-time summary log spec.md section
// 4.2 requires: one line per server whose FailCount > 1 at process exit.
func SummarizeIfFailing(logger *zap.Logger, label string, state *State) {
	if state.FailCount > 1 {
		logger.Error("server still failing at shutdown",
			zap.String("server", label),
			zap.Int("attempts", state.FailCount),
			zap.String("error_info", state.ErrorInfoText))
	}
}
