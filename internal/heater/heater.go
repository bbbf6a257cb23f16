package heater

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Agrid-Dev/proofbox/internal/actuator"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/sensor"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

const (
	DefaultPollInterval = 2 * time.Second
	shutdownTimeout     = 2 * time.Second
)

type Config struct {
	UpperThreshold float64
	LowerThreshold float64
	InitialState   hysteresis.State // StateUnknown means off
	PollInterval   time.Duration    // 0 means DefaultPollInterval

	// FailSafeAfter forces the heater off after that many consecutive
	// sensor failures. 0 disables it: failures then never change the output.
	FailSafeAfter int
	// OffOnExit turns the heater off when Run returns.
	OffOnExit bool
}

type Status struct {
	UpperThreshold float64
	LowerThreshold float64
	Heater         hysteresis.State

	Temperature    float64
	HasTemperature bool
	Humidity       float64
	HasHumidity    bool
	LastReadingAt  time.Time

	LastError     string
	ActuatorError string
	FailureStreak int
	FailSafe      bool
	Readings      uint64
	Failures      uint64
}

// Loop polls one sensor, feeds the hysteresis controller and applies the
// resulting command to one actuator. Tick and Run must be driven from a
// single goroutine; Get and SetThresholds are safe from any goroutine.
type Loop struct {
	mu   sync.RWMutex
	ctrl *hysteresis.Controller
	s    Status

	cfg      Config
	sensor   sensor.Sensor
	actuator actuator.Actuator
	now      func() time.Time
}

type Option func(*Loop)

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func New(cfg Config, s sensor.Sensor, a actuator.Actuator, opts ...Option) (*Loop, error) {
	if s == nil {
		return nil, ErrMissingSensor
	}
	if a == nil {
		return nil, ErrMissingActuator
	}
	if cfg.FailSafeAfter < 0 {
		return nil, ErrInvalidFailSafe
	}
	if cfg.PollInterval < 0 {
		return nil, ErrInvalidPollDelay
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InitialState == hysteresis.StateUnknown {
		cfg.InitialState = hysteresis.Off
	}

	ctrl, err := hysteresis.New(cfg.UpperThreshold, cfg.LowerThreshold, cfg.InitialState)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		ctrl:     ctrl,
		cfg:      cfg,
		sensor:   s,
		actuator: a,
		now:      time.Now,
		s: Status{
			UpperThreshold: cfg.UpperThreshold,
			LowerThreshold: cfg.LowerThreshold,
			Heater:         cfg.InitialState,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) Get() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

// SetThresholds swaps the controller for one with new thresholds, keeping
// the current heater state. The output follows on the next tick.
func (l *Loop) SetThresholds(upper, lower float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctrl, err := hysteresis.New(upper, lower, l.ctrl.State())
	if err != nil {
		return err
	}
	l.ctrl = ctrl
	l.s.UpperThreshold = upper
	l.s.LowerThreshold = lower
	ui.Info("Thresholds set to %.2f°C / %.2f°C", lower, upper)
	return nil
}

// Tick runs one control cycle: read, decide, apply.
func (l *Loop) Tick(ctx context.Context) Status {
	r := sensor.Sample(ctx, l.sensor)

	l.mu.Lock()
	cmd := l.ctrl.Update(r)
	if r.OK() {
		l.recordReading(r.Value)
	} else {
		cmd = l.recordFailure(cmd, r.Err)
	}
	l.s.Heater = cmd.State
	l.mu.Unlock()

	if cmd.Changed {
		ui.Info("Heater %s", strings.ToUpper(cmd.State.String()))
	} else {
		ui.Debug("Heater stays %s", strings.ToUpper(cmd.State.String()))
	}

	// always re-assert, the output may have been changed behind our back
	err := l.actuator.Set(ctx, cmd.State)
	if err != nil {
		ui.Error("Failed to set heater %s on %s: %v", cmd.State, l.actuator.Name(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.s.ActuatorError = err.Error()
	} else {
		l.s.ActuatorError = ""
	}
	return l.s
}

func (l *Loop) recordReading(v float64) {
	l.s.Readings++
	l.s.Temperature = v
	l.s.HasTemperature = true
	l.s.LastReadingAt = l.now()
	l.s.LastError = ""
	if l.s.FailSafe {
		ui.Success("Sensor recovered after %d failures", l.s.FailureStreak)
	}
	l.s.FailureStreak = 0
	l.s.FailSafe = false
	ui.Info("Temperature: %.2f°C", v)

	if hs, ok := l.sensor.(sensor.HumiditySensor); ok {
		if h, ok := hs.Humidity(); ok {
			l.s.Humidity = h
			l.s.HasHumidity = true
			ui.Info("Humidity: %.1f%%", h)
		}
	}
}

func (l *Loop) recordFailure(cmd hysteresis.Command, err error) hysteresis.Command {
	l.s.Failures++
	l.s.FailureStreak++
	l.s.LastError = err.Error()
	ui.Warning("Failed to read sensor %s: %v", l.sensor.Name(), err)

	if l.cfg.FailSafeAfter == 0 || l.s.FailSafe || l.s.FailureStreak < l.cfg.FailSafeAfter {
		return cmd
	}
	forced, ferr := l.ctrl.Force(hysteresis.Off)
	if ferr != nil {
		return cmd
	}
	l.s.FailSafe = true
	ui.Error("%d consecutive sensor failures, forcing heater off", l.s.FailureStreak)
	return forced
}

// Run asserts the initial state, ticks immediately and then on every poll
// interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.RLock()
	initial := l.ctrl.State()
	l.mu.RUnlock()

	if err := l.actuator.Set(ctx, initial); err != nil {
		return fmt.Errorf("assert initial heater state: %w", err)
	}
	ui.Info("Regulating %s -> %s every %s", l.sensor.Name(), l.actuator.Name(), l.cfg.PollInterval)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			l.Tick(ctx)
		}
	}
}

func (l *Loop) shutdown() {
	if !l.cfg.OffOnExit {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	l.mu.Lock()
	_, _ = l.ctrl.Force(hysteresis.Off)
	l.s.Heater = hysteresis.Off
	l.mu.Unlock()

	if err := l.actuator.Set(ctx, hysteresis.Off); err != nil {
		ui.Error("Failed to turn heater off on exit: %v", err)
		return
	}
	ui.Info("Heater OFF (exit)")
}
