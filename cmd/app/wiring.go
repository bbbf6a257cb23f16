package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Agrid-Dev/proofbox/internal/actuator"
	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/sensor"
	"github.com/Agrid-Dev/proofbox/internal/simulator"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

// IO is the sensor/actuator pair the loop runs against.
type IO struct {
	Sensor   sensor.Sensor
	Actuator actuator.Actuator
	Chamber  *simulator.Chamber // set for the simulated kind

	closers []func() error
}

func (io *IO) Close() error {
	var first error
	for _, c := range io.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c Config) LoopConfig() (heater.Config, error) {
	initial, err := hysteresis.ParseState(c.Heater.InitialState)
	if err != nil {
		return heater.Config{}, fmt.Errorf("heater.initial_state: %w", err)
	}
	return heater.Config{
		UpperThreshold: c.Heater.UpperThreshold,
		LowerThreshold: c.Heater.LowerThreshold,
		InitialState:   initial,
		PollInterval:   c.Heater.PollInterval,
		FailSafeAfter:  c.Heater.FailSafeAfter,
		OffOnExit:      c.Heater.OffOnExit,
	}, nil
}

func (c Config) ChamberParams() simulator.ChamberParams {
	return simulator.ChamberParams{
		InitialTemperature: c.Simulator.InitialTemperature,
		HeatLoss: simulator.HeatLossParams{
			RoomTemperature: c.Simulator.RoomTemperature,
			Coefficient:     c.Simulator.HeatLossCoefficient,
		},
		HeaterPower: c.Simulator.HeaterPower,
		FailureRate: c.Simulator.FailureRate,
	}
}

// BuildIO opens the sensor and actuator named by the config.
// A simulated sensor and actuator share one chamber.
func (c Config) BuildIO() (*IO, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	io := &IO{}

	switch c.Sensor.Kind {
	case "simulated":
		ch, err := simulator.NewChamber(c.ChamberParams())
		if err != nil {
			return nil, fmt.Errorf("simulator: %w", err)
		}
		if top := ch.Equilibrium(); top <= c.Heater.UpperThreshold {
			ui.Warning("Simulated chamber tops out at %.2f°C, never reaching the upper threshold %.2f°C", top, c.Heater.UpperThreshold)
		}
		io.Chamber = ch
		io.Sensor = ch
		io.Actuator = ch
		return io, nil
	case "ds18b20":
		announceDS18B20(c.Sensor.BasePath, c.Sensor.Device)
		io.Sensor = sensor.NewDS18B20(c.Sensor.BasePath, c.Sensor.Device)
	case "dht22":
		io.Sensor = sensor.NewDHT22(c.Sensor.Device)
	case "modbus":
		m := sensor.NewModbus(c.Sensor.ModbusAddr, c.Sensor.ModbusUnitID, c.Sensor.ModbusRegister, c.Sensor.Timeout)
		io.Sensor = m
		io.closers = append(io.closers, m.Close)
	}

	switch c.Actuator.Kind {
	case "log":
		io.Actuator = actuator.NewLog()
	case "gpio":
		g, err := actuator.OpenGPIO(c.Actuator.Pin, c.Actuator.ActiveLow)
		if err != nil {
			_ = io.Close()
			return nil, fmt.Errorf("gpio: %w", err)
		}
		io.Actuator = g
	}
	return io, nil
}

// BuildLoop wires the loop to io.
func (c Config) BuildLoop(io *IO, opts ...heater.Option) (*heater.Loop, error) {
	lc, err := c.LoopConfig()
	if err != nil {
		return nil, err
	}
	l, err := heater.New(lc, io.Sensor, io.Actuator, opts...)
	if err != nil {
		return nil, fmt.Errorf("heater: %w", err)
	}
	return l, nil
}

// announceDS18B20 scans the bus once at startup and reports what is there.
// The loop still starts: a probe plugged in later is picked up by Read.
// It reports whether the configured device (or any device, if none is
// configured) was found.
func announceDS18B20(basePath, device string) bool {
	roms, err := sensor.ScanDS18B20(basePath)
	if err != nil {
		ui.Warning("Cannot scan for DS18B20 sensors: %v", err)
		return false
	}
	if len(roms) == 0 {
		ui.Warning("No DS18B20 sensors found")
		return false
	}
	ui.Info("Found %d sensor(s): %s", len(roms), strings.Join(roms, ", "))
	if device != "" && !slices.Contains(roms, device) {
		ui.Warning("Configured DS18B20 %s is not on the bus", device)
		return false
	}
	return true
}
