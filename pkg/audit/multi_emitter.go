package audit

import (
	"context"
	"errors"
)

// MultiEmitter emits every event to several emitters. A failing emitter does
// not prevent delivery to the others.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a fan-out emitter, skipping nil entries
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit delivers event to every emitter and joins their errors
func (m *MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
