package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

// TemperatureScale is the fixed point factor for temperatures carried in
// Modbus registers (signed int16, hundredths of °C).
const TemperatureScale = 100

// Modbus reads a temperature from a remote proofbox over Modbus TCP. From
// the configured base register it expects:
//
//	input base        temperature, °C x100
//	input base+1      consecutive sensor failures on the remote
//	discrete base+1   the remote has read a temperature
//
// A remote without a temperature, or whose sensor is currently failing,
// yields an error rather than its placeholder or stale value.
type Modbus struct {
	addr     string
	register uint16
	handler  *modbus.TCPClientHandler
	client   modbus.Client
}

func NewModbus(addr string, unitID byte, register uint16, timeout time.Duration) *Modbus {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	h := modbus.NewTCPClientHandler(addr)
	h.SlaveId = unitID
	h.Timeout = timeout
	h.IdleTimeout = 30 * time.Second
	return &Modbus{
		addr:     addr,
		register: register,
		handler:  h,
		client:   modbus.NewClient(h),
	}
}

func (m *Modbus) Name() string {
	return fmt.Sprintf("modbus:%s/ir%d", m.addr, m.register)
}

func (m *Modbus) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	flags, err := m.client.ReadDiscreteInputs(m.register+1, 1)
	if err != nil {
		return 0, errors.Wrapf(err, "modbus read %s", m.Name())
	}
	if len(flags) != 1 {
		return 0, errors.Wrapf(ErrEmpty, "modbus read %s: %d flag bytes", m.Name(), len(flags))
	}
	if flags[0]&1 == 0 {
		return 0, errors.Wrapf(ErrNoReading, "modbus read %s", m.Name())
	}

	res, err := m.client.ReadInputRegisters(m.register, 2)
	if err != nil {
		return 0, errors.Wrapf(err, "modbus read %s", m.Name())
	}
	if len(res) != 4 {
		return 0, errors.Wrapf(ErrEmpty, "modbus read %s: %d bytes", m.Name(), len(res))
	}
	if streak := binary.BigEndian.Uint16(res[2:]); streak > 0 {
		return 0, errors.Wrapf(ErrStale, "modbus read %s: %d failures on the remote", m.Name(), streak)
	}
	return DecodeTemperature(binary.BigEndian.Uint16(res)), nil
}

func (m *Modbus) Close() error {
	return m.handler.Close()
}

// DecodeTemperature turns a register value back into °C.
func DecodeTemperature(u uint16) float64 {
	return float64(int16(u)) / TemperatureScale
}

// EncodeTemperature clamps v to the int16 range once scaled. NaN encodes as 0.
func EncodeTemperature(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v * TemperatureScale)
	r = math.Max(math.Min(r, math.MaxInt16), math.MinInt16)
	return uint16(int16(r))
}
