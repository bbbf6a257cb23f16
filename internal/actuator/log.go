package actuator

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

// Log is a dry-run actuator: it only reports state changes.
type Log struct {
	mu   sync.Mutex
	last hysteresis.State
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Set(_ context.Context, s hysteresis.State) error {
	if !s.Valid() {
		return ErrInvalidState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s != l.last {
		ui.Info("[dry-run] heater output -> %s", s)
	} else {
		ui.Debug("[dry-run] heater output stays %s", s)
	}
	l.last = s
	return nil
}

// Last returns the last applied state.
func (l *Log) Last() hysteresis.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
