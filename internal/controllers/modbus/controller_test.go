package modbusctrl

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// fake service for tests
type spyHeaterService struct {
	mu sync.Mutex
	s  heater.Status

	// record calls
	setThresholdsCalls [][2]float64
}

func (f *spyHeaterService) Get() heater.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *spyHeaterService) SetThresholds(upper, lower float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setThresholdsCalls = append(f.setThresholdsCalls, [2]float64{upper, lower})
	if !(lower < upper) {
		return hysteresis.ErrInvalidConfiguration
	}
	f.s.UpperThreshold = upper
	f.s.LowerThreshold = lower
	return nil
}

func (f *spyHeaterService) lastCall() ([2]float64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.setThresholdsCalls) == 0 {
		return [2]float64{}, 0
	}
	return f.setThresholdsCalls[len(f.setThresholdsCalls)-1], len(f.setThresholdsCalls)
}

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const startupDelay = 50 * time.Millisecond

func startTestServer(t *testing.T, fs *spyHeaterService) modbus.Client {
	t.Helper()
	addr := findFreeTCPAddr(t)

	ctrl, err := New(fs, Config{DeviceID: "dev", Addr: addr, UnitID: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	time.Sleep(startupDelay)

	handler := modbus.NewTCPClientHandler(addr)
	handler.SlaveId = 1
	handler.Timeout = time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func newSpy() *spyHeaterService {
	return &spyHeaterService{s: heater.Status{
		UpperThreshold: 25,
		LowerThreshold: 23.9,
		Heater:         hysteresis.On,
		Temperature:    21.25,
		HasTemperature: true,
		Humidity:       61.5,
		HasHumidity:    true,
		FailureStreak:  2,
	}}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(newSpy(), Config{}); err == nil {
		t.Fatal("expected error when UnitID missing")
	}
	c, err := New(newSpy(), Config{UnitID: 3})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Addr != "127.0.0.1:1502" {
		t.Fatalf("expected default addr, got %q", c.cfg.Addr)
	}
}

func TestModbusControllerReads(t *testing.T) {
	fs := newSpy()
	client := startTestServer(t, fs)

	// Holding registers 0..1
	res, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 bytes got %d", len(res))
	}
	get := func(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i*2 : i*2+2]) }
	if get(res, 0) != encodeTemp(25) || get(res, 1) != encodeTemp(23.9) {
		t.Fatalf("thresholds mismatch: %v", res)
	}

	// Input registers 0..2
	res, err = client.ReadInputRegisters(0, 3)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if decodeTemp(get(res, 0)) != 21.25 {
		t.Fatalf("temperature mismatch: %v", decodeTemp(get(res, 0)))
	}
	if get(res, 1) != 2 {
		t.Fatalf("failure streak mismatch: %v", get(res, 1))
	}
	if get(res, 2) != 6150 {
		t.Fatalf("humidity mismatch: %v", get(res, 2))
	}

	// Coil 0: heater on
	res, err = client.ReadCoils(0, 1)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if len(res) != 1 || res[0] != 0x01 {
		t.Fatalf("expected heater coil set, got %v", res)
	}

	// Discrete inputs: fail-safe off, has temperature
	res, err = client.ReadDiscreteInputs(0, 2)
	if err != nil {
		t.Fatalf("read discrete inputs: %v", err)
	}
	if len(res) != 1 || res[0] != 0x02 {
		t.Fatalf("expected discrete inputs 0b10, got %v", res)
	}

	// Out of map
	if _, err := client.ReadHoldingRegisters(1, 2); err == nil {
		t.Fatal("expected exception reading past the holding registers")
	}
	if _, err := client.ReadInputRegisters(3, 1); err == nil {
		t.Fatal("expected exception reading past the input registers")
	}
}

func TestModbusControllerWrites(t *testing.T) {
	fs := newSpy()
	client := startTestServer(t, fs)

	// Write upper threshold
	if _, err := client.WriteSingleRegister(0, encodeTemp(26.5)); err != nil {
		t.Fatalf("write register: %v", err)
	}
	call, n := fs.lastCall()
	if n != 1 || call != [2]float64{26.5, 23.9} {
		t.Fatalf("expected SetThresholds(26.5, 23.9), got %v (%d calls)", call, n)
	}

	// Lower above upper is rejected
	if _, err := client.WriteSingleRegister(1, encodeTemp(27)); err == nil {
		t.Fatal("expected exception for inverted thresholds")
	}
	if got := fs.Get().LowerThreshold; got != 23.9 {
		t.Fatalf("expected lower threshold unchanged, got %v", got)
	}

	// Move the band in one request
	values := make([]byte, 4)
	binary.BigEndian.PutUint16(values[0:2], encodeTemp(30))
	binary.BigEndian.PutUint16(values[2:4], encodeTemp(28))
	if _, err := client.WriteMultipleRegisters(0, 2, values); err != nil {
		t.Fatalf("write multiple: %v", err)
	}
	st := fs.Get()
	if st.UpperThreshold != 30 || st.LowerThreshold != 28 {
		t.Fatalf("expected band 28..30, got %v..%v", st.LowerThreshold, st.UpperThreshold)
	}

	// Unknown register
	if _, err := client.WriteSingleRegister(2, 1); err == nil {
		t.Fatal("expected exception for unknown register")
	}

	// Coils are read only
	if _, err := client.WriteSingleCoil(0, 0x0000); err == nil {
		t.Fatal("expected exception writing the heater coil")
	}
	if fs.Get().Heater != hysteresis.On {
		t.Fatal("heater state must not be writable")
	}
}

func TestPackBits(t *testing.T) {
	got := packBits([]bool{true, false, true, false, false, false, false, false, true})
	want := []byte{2, 0x05, 0x01}
	if string(got) != string(want) {
		t.Fatalf("packBits = %v, want %v", got, want)
	}
}

func TestInputRegistersClamp(t *testing.T) {
	regs := inputRegisters(heater.Status{FailureStreak: 1 << 20, Humidity: 140, HasHumidity: true})
	if regs[1] != 0xFFFF {
		t.Fatalf("expected clamped streak, got %d", regs[1])
	}
	if regs[2] != 10000 {
		t.Fatalf("expected clamped humidity, got %d", regs[2])
	}
}
