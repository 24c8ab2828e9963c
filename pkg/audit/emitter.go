package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/dormshare/pkg/observability"
)

// Emitter delivers audit events to the audit collaborator
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, event *Event) error

// Emit calls f
func (f EmitterFunc) Emit(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NopEmitter returns an emitter that drops every event
func NopEmitter() Emitter {
	return noOpEmitter{}
}

type noOpEmitter struct{}

func (noOpEmitter) Emit(ctx context.Context, event *Event) error {
	return nil
}

// LogEmitter writes events to the structured log at warn level
type LogEmitter struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewLogEmitter creates an emitter backed by logger
func NewLogEmitter(logger *observability.Logger) *LogEmitter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogEmitter{
		logger: logger.WithField("component", "audit"),
		now:    time.Now,
	}
}

// Emit logs the event
func (e *LogEmitter) Emit(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.logger.WithFields(event.Fields()).Warn("request rejected")
	return nil
}
