package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

var ErrFakeSensor = errors.New("fake sensor failure")

// FakeSensor replays scripted readings; entries with Fail set return
// ErrFakeSensor. Once the script is exhausted the last entry repeats.
type FakeSensor struct {
	mu     sync.Mutex
	script []FakeReading
	calls  int
}

type FakeReading struct {
	Value float64
	Fail  bool
}

func Value(v float64) FakeReading { return FakeReading{Value: v} }

func Failure() FakeReading { return FakeReading{Fail: true} }

func NewFakeSensor(script ...FakeReading) *FakeSensor {
	return &FakeSensor{script: script}
}

func (f *FakeSensor) Name() string { return "fake" }

func (f *FakeSensor) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return 0, ErrFakeSensor
	}
	i := min(f.calls, len(f.script)-1)
	f.calls++
	r := f.script[i]
	if r.Fail {
		return 0, ErrFakeSensor
	}
	return r.Value, nil
}

func (f *FakeSensor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeActuator records every state it is asked to apply.
type FakeActuator struct {
	mu   sync.Mutex
	sets []hysteresis.State
	Err  error
}

func NewFakeActuator() *FakeActuator {
	return &FakeActuator{}
}

func (f *FakeActuator) Name() string { return "fake" }

func (f *FakeActuator) Set(_ context.Context, s hysteresis.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, s)
	return f.Err
}

func (f *FakeActuator) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

func (f *FakeActuator) Sets() []hysteresis.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hysteresis.State(nil), f.sets...)
}

func (f *FakeActuator) Last() hysteresis.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sets) == 0 {
		return hysteresis.StateUnknown
	}
	return f.sets[len(f.sets)-1]
}
