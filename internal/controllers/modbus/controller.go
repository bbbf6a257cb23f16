package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/ports"
	"github.com/Agrid-Dev/proofbox/internal/sensor"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

// Register map.
//
//	coil 0            heater on (read only)
//	discrete input 0  fail-safe active
//	discrete input 1  a temperature has been read
//	holding 0         upper threshold, °C x100 (read/write)
//	holding 1         lower threshold, °C x100 (read/write)
//	input 0           last temperature, °C x100
//	input 1           consecutive sensor failures
//	input 2           last relative humidity, % x100 (0 without humidity)
const (
	coilCount     = 1
	discreteCount = 2
	holdingCount  = 2
	inputCount    = 3
)

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.HeaterService
	cfg Config

	serv *mbserver.Server
}

func New(svc ports.HeaterService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	return &Controller{svc: svc, cfg: cfg}, nil
}

// Run starts the Modbus server and registers handlers that apply writes immediately and
// provide reads directly from the heater service. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(2, c.readDiscreteInputs)
	serv.RegisterFunctionHandler(3, c.readHoldingRegisters)
	serv.RegisterFunctionHandler(4, c.readInputRegisters)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)
	// Write Single/Multiple Coil (5, 15): the heater state is owned by the controller.
	serv.RegisterFunctionHandler(5, illegalFunction)
	serv.RegisterFunctionHandler(15, illegalFunction)

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	ui.Info("modbus listening on %s (unit %d)", c.cfg.Addr, c.cfg.UnitID)

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func illegalFunction(_ *mbserver.Server, _ mbserver.Framer) ([]byte, *mbserver.Exception) {
	return []byte{}, &mbserver.IllegalFunction
}

// readRange decodes the start/quantity header shared by all read functions.
func readRange(data []byte, size, maxQty int) (int, int, *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	if start+qty > size {
		return 0, 0, &mbserver.IllegalDataAddress
	}
	return start, qty, nil
}

// Read Coils (function 1)
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), coilCount, 2000)
	if ex != nil {
		return []byte{}, ex
	}
	s := c.svc.Get()
	return packBits([]bool{s.Heater == hysteresis.On}[start : start+qty]), &mbserver.Success
}

// Read Discrete Inputs (function 2)
func (c *Controller) readDiscreteInputs(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), discreteCount, 2000)
	if ex != nil {
		return []byte{}, ex
	}
	s := c.svc.Get()
	return packBits([]bool{s.FailSafe, s.HasTemperature}[start : start+qty]), &mbserver.Success
}

// Read Holding Registers (function 3)
func (c *Controller) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), holdingCount, 125)
	if ex != nil {
		return []byte{}, ex
	}
	return packRegisters(holdingRegisters(c.svc.Get())[start : start+qty]), &mbserver.Success
}

// Read Input Registers (function 4)
func (c *Controller) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), inputCount, 125)
	if ex != nil {
		return []byte{}, ex
	}
	return packRegisters(inputRegisters(c.svc.Get())[start : start+qty]), &mbserver.Success
}

// Write Single Register (function 6)
func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])
	if addr >= holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	regs := holdingRegisters(c.svc.Get())
	regs[addr] = value
	if ex := c.applyThresholds(regs); ex != nil {
		return []byte{}, ex
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Multiple Registers (function 16). Writing both thresholds in one
// request moves the band atomically.
func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if quantity == 0 || byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(start)+int(quantity) > holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	regs := holdingRegisters(c.svc.Get())
	for i := 0; i < int(quantity); i++ {
		regs[int(start)+i] = binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
	}
	if ex := c.applyThresholds(regs); ex != nil {
		return []byte{}, ex
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) applyThresholds(regs []uint16) *mbserver.Exception {
	upper, lower := decodeTemp(regs[0]), decodeTemp(regs[1])
	if err := c.svc.SetThresholds(upper, lower); err != nil {
		return &mbserver.IllegalDataValue
	}
	return nil
}

func holdingRegisters(s heater.Status) []uint16 {
	return []uint16{encodeTemp(s.UpperThreshold), encodeTemp(s.LowerThreshold)}
}

func inputRegisters(s heater.Status) []uint16 {
	var humidity uint16
	if s.HasHumidity {
		humidity = uint16(math.Round(min(max(s.Humidity, 0), 100) * 100))
	}
	streak := uint16(min(s.FailureStreak, math.MaxUint16))
	return []uint16{encodeTemp(s.Temperature), streak, humidity}
}

func packRegisters(regs []uint16) []byte {
	resp := make([]byte, 1+len(regs)*2)
	resp[0] = byte(len(regs) * 2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

func packBits(bits []bool) []byte {
	n := (len(bits) + 7) / 8
	resp := make([]byte, 1+n)
	resp[0] = byte(n)
	for i, b := range bits {
		if b {
			resp[1+i/8] |= 1 << (i % 8)
		}
	}
	return resp
}

func encodeTemp(v float64) uint16 {
	return sensor.EncodeTemperature(v)
}

func decodeTemp(u uint16) float64 {
	return sensor.DecodeTemperature(u)
}
