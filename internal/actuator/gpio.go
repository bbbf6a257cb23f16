package actuator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// GPIO drives a MOSFET gate (or relay) from a digital output.
type GPIO struct {
	pin       gpio.PinOut
	activeLow bool
}

// OpenGPIO initializes the host drivers and looks up the pin by name,
// e.g. "GPIO12" or "12".
func OpenGPIO(name string, activeLow bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Wrapf(ErrUnknownPin, "%q", name)
	}
	return NewGPIO(p, activeLow), nil
}

func NewGPIO(pin gpio.PinOut, activeLow bool) *GPIO {
	return &GPIO{pin: pin, activeLow: activeLow}
}

func (g *GPIO) Name() string {
	if g.activeLow {
		return fmt.Sprintf("gpio:%s (active low)", g.pin.Name())
	}
	return "gpio:" + g.pin.Name()
}

func (g *GPIO) Set(ctx context.Context, s hysteresis.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Valid() {
		return ErrInvalidState
	}
	level := gpio.Level(s == hysteresis.On)
	if g.activeLow {
		level = !level
	}
	if err := g.pin.Out(level); err != nil {
		return errors.Wrapf(err, "set %s %s", g.pin.Name(), level)
	}
	return nil
}
