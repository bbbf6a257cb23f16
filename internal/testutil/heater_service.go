package testutil

import (
	"sync"

	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// FakeHeaterService is a reusable fake implementing ports.HeaterService.
// Put ONLY what multiple test packages need here.
type FakeHeaterService struct {
	mu sync.Mutex
	S  heater.Status

	SetThresholdsCalled bool
	SetThresholdsUpper  float64
	SetThresholdsLower  float64
	SetThresholdsErr    error
}

func NewFakeHeaterService() *FakeHeaterService {
	return &FakeHeaterService{
		S: heater.Status{
			UpperThreshold: 25,
			LowerThreshold: 23.9,
			Heater:         hysteresis.On,
			Temperature:    23.5,
			HasTemperature: true,
			Readings:       12,
		},
	}
}

func (f *FakeHeaterService) Get() heater.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeHeaterService) SetThresholds(upper, lower float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetThresholdsCalled = true
	f.SetThresholdsUpper = upper
	f.SetThresholdsLower = lower
	if f.SetThresholdsErr != nil {
		return f.SetThresholdsErr
	}
	if !(lower < upper) {
		return hysteresis.ErrInvalidConfiguration
	}
	f.S.UpperThreshold = upper
	f.S.LowerThreshold = lower
	return nil
}

// Set replaces the status under lock, for tests polling from another goroutine.
func (f *FakeHeaterService) Set(s heater.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.S = s
}
