// Package telemetry records operational events for match audits and
// incident analysis.
package telemetry

import (
	"context"
	"time"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event is one operational telemetry record.
type Event struct {
	Timestamp time.Time
	EventName string
	Severity  Severity
	GameID    int
	GameType  string
	Player    string
	Attrs     map[string]any
}

// Store persists telemetry records.
type Store interface {
	AppendEvent(ctx context.Context, evt Event) error
}

// Emitter records operational telemetry events.
type Emitter struct {
	store Store
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store Store) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the emitter or its
// store is nil, so call sites never need to guard.
func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}
	return e.store.AppendEvent(ctx, evt)
}
