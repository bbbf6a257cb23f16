package sensor

import (
	"context"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// Sensor reads a temperature in °C.
type Sensor interface {
	Name() string
	Read(ctx context.Context) (float64, error)
}

// HumiditySensor is implemented by sensors that also sample relative
// humidity as part of Read.
type HumiditySensor interface {
	Humidity() (float64, bool)
}

// Sample reads s once and turns the result into a controller reading.
func Sample(ctx context.Context, s Sensor) hysteresis.Reading {
	if err := ctx.Err(); err != nil {
		return hysteresis.Failed(err)
	}
	v, err := s.Read(ctx)
	if err != nil {
		return hysteresis.Failed(err)
	}
	return hysteresis.Measured(v)
}

func checkRange(v, min, max float64) error {
	if v < min || v > max {
		return ErrOutOfRange
	}
	return nil
}
