// Package events carries run and session progress out of the orchestrator.
// The orchestrator emits checkpoints through the Emitter interface; a zap
// emitter backs CLI runs and a websocket hub fans the same events out to
// connected clients in server mode.
package events

import (
	"time"

	"go.uber.org/zap"
)

// Well-known status values. Sessions emit these in order as they move
// through their pipeline; failures can surface at any point.
const (
	StatusStarting      = "starting"
	StatusProxyAssigned = "proxy_assigned"
	StatusLaunching     = "launching"
	StatusLogin         = "login"
	StatusLoginSuccess  = "login_success"
	StatusLoginError    = "login_error"
	StatusNavigating    = "navigating"
	StatusSearching     = "searching"
	StatusWatching      = "watching"
	StatusBrowsing      = "browsing"
	StatusInteracting   = "interacting"
	StatusCompleted     = "completed"
	StatusError         = "error"
	StatusAllCompleted  = "all_completed"
)

// Event is one progress checkpoint. SessionID is empty for run-level events
// such as all_completed.
type Event struct {
	RunID        string         `json:"runId"`
	SessionID    string         `json:"sessionId,omitempty"`
	SessionIndex int            `json:"sessionIndex"`
	Status       string         `json:"status"`
	Message      string         `json:"message"`
	Progress     int            `json:"progress,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// Emitter receives progress checkpoints. Emit must be safe for concurrent
// use and must never block the emitting session for long; slow consumers
// drop events rather than stall the run.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// ZapEmitter logs every checkpoint through the structured logger. This is
// the default sink for CLI runs.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter wraps a logger as an emitter.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	return &ZapEmitter{logger: logger.Named("events")}
}

func (z *ZapEmitter) Emit(evt Event) {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID),
		zap.String("status", evt.Status),
	}
	if evt.SessionID != "" {
		fields = append(fields,
			zap.String("session_id", evt.SessionID),
			zap.Int("session_index", evt.SessionIndex))
	}
	if evt.Progress > 0 {
		fields = append(fields, zap.Int("progress", evt.Progress))
	}
	if len(evt.Data) > 0 {
		fields = append(fields, zap.Any("data", evt.Data))
	}

	if evt.Status == StatusError || evt.Status == StatusLoginError {
		z.logger.Warn(evt.Message, fields...)
		return
	}
	z.logger.Info(evt.Message, fields...)
}

// MultiEmitter fans one event out to several sinks.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		e.Emit(evt)
	}
}

// Stamp fills the timestamp if the emit site left it zero.
func Stamp(evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	return evt
}
