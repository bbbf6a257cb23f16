package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/sensor"
)

func TestEnvKeyTransform_TopLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DEVICE_ID", "device_id"},
		{"CONTROLLER", "controller"},
		{"ADDR", "addr"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_Controllers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CONTROLLERS_HTTP_ADDR", "controllers.http.addr"},
		{"CONTROLLERS_MQTT_PUBLISH_INTERVAL", "controllers.mqtt.publish_interval"},
		{"CONTROLLERS_MQTT_BROKER_URL", "controllers.mqtt.broker_url"},
		{"CONTROLLERS_MODBUS_UNIT_ID", "controllers.modbus.unit_id"},
		{"CONTROLLERS_HTTP", "controllers_http"},   // not enough parts -> fallback
		{"CONTROLLERS__ADDR", "controllers..addr"}, // edge case
		{"controllers_HTTP_addr", "controllers.http.addr"},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_Sections(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HEATER_UPPER_THRESHOLD", "heater.upper_threshold"},
		{"HEATER_FAIL_SAFE_AFTER", "heater.fail_safe_after"},
		{"SENSOR_KIND", "sensor.kind"},
		{"SENSOR_MODBUS_UNIT_ID", "sensor.modbus_unit_id"},
		{"ACTUATOR_ACTIVE_LOW", "actuator.active_low"},
		{"SIMULATOR_HEAT_LOSS_COEFFICIENT", "simulator.heat_loss_coefficient"},
		{"HEATER", "heater"}, // not enough parts -> passthrough
		{"SENSOR", "sensor"},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Fatalf("cfg = %+v\nwant %+v", cfg, want)
	}
	if cfg.Sensor.BasePath != sensor.W1DevicesPath {
		t.Fatalf("base_path = %q", cfg.Sensor.BasePath)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, "config.yaml", `
device_id: kitchen
heater:
  upper_threshold: 27
  lower_threshold: 26
  initial_state: "on"
  poll_interval: 5s
  fail_safe_after: 3
  off_on_exit: false
sensor:
  kind: ds18b20
  device: 28-0000075a1b2c
actuator:
  kind: gpio
  pin: GPIO17
  active_low: true
controllers:
  http:
    enabled: true
    addr: ":9090"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DeviceID != "kitchen" {
		t.Fatalf("device_id = %q", cfg.DeviceID)
	}
	h := cfg.Heater
	if h.UpperThreshold != 27 || h.LowerThreshold != 26 || h.InitialState != "on" ||
		h.PollInterval != 5*time.Second || h.FailSafeAfter != 3 || h.OffOnExit {
		t.Fatalf("heater = %+v", h)
	}
	if cfg.Sensor.Kind != "ds18b20" || cfg.Sensor.Device != "28-0000075a1b2c" {
		t.Fatalf("sensor = %+v", cfg.Sensor)
	}
	// untouched keys keep their defaults
	if cfg.Sensor.BasePath != sensor.W1DevicesPath || cfg.Sensor.Timeout != 2*time.Second {
		t.Fatalf("sensor defaults lost: %+v", cfg.Sensor)
	}
	if cfg.Actuator != (ActuatorConfig{Kind: "gpio", Pin: "GPIO17", ActiveLow: true}) {
		t.Fatalf("actuator = %+v", cfg.Actuator)
	}
	if !cfg.Controllers.HTTP.Enabled || cfg.Controllers.HTTP.Addr != ":9090" {
		t.Fatalf("http = %+v", cfg.Controllers.HTTP)
	}
	if cfg.Controllers.MQTT.Enabled || cfg.Controllers.MODBUS.Enabled {
		t.Fatalf("mqtt/modbus should stay disabled")
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, "config.json", `{
  "heater": {"upper_threshold": 30, "lower_threshold": 28.5},
  "controllers": {"modbus": {"enabled": true, "unit_id": 7}}
}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Heater.UpperThreshold != 30 || cfg.Heater.LowerThreshold != 28.5 {
		t.Fatalf("heater = %+v", cfg.Heater)
	}
	if !cfg.Controllers.MODBUS.Enabled || cfg.Controllers.MODBUS.UnitID != 7 || cfg.Controllers.MODBUS.Addr != ":1502" {
		t.Fatalf("modbus = %+v", cfg.Controllers.MODBUS)
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "config.toml", "device_id = 'x'\n")
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrUnsupportedFileExt) {
		t.Fatalf("err = %v, want ErrUnsupportedFileExt", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "heater: [unterminated\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, "config.yaml", "heater:\n  upper_threshold: 27\n  lower_threshold: 26\n")
	t.Setenv("PROOFBOX_HEATER_UPPER_THRESHOLD", "28.5")
	t.Setenv("PROOFBOX_HEATER_POLL_INTERVAL", "500ms")
	t.Setenv("PROOFBOX_HEATER_OFF_ON_EXIT", "false")
	t.Setenv("PROOFBOX_CONTROLLERS_MQTT_ENABLED", "true")
	t.Setenv("PROOFBOX_CONTROLLERS_MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("PROOFBOX_DEVICE_ID", "bench")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Heater.UpperThreshold != 28.5 || cfg.Heater.LowerThreshold != 26 {
		t.Fatalf("thresholds = %v/%v", cfg.Heater.UpperThreshold, cfg.Heater.LowerThreshold)
	}
	if cfg.Heater.PollInterval != 500*time.Millisecond || cfg.Heater.OffOnExit {
		t.Fatalf("heater = %+v", cfg.Heater)
	}
	if !cfg.Controllers.MQTT.Enabled || cfg.Controllers.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Fatalf("mqtt = %+v", cfg.Controllers.MQTT)
	}
	if cfg.DeviceID != "bench" {
		t.Fatalf("device_id = %q", cfg.DeviceID)
	}
}

func TestApplyEnvOverrides_Port(t *testing.T) {
	t.Setenv("PORT", "7070")
	cfg := Defaults()
	ApplyEnvOverrides(&cfg)
	if cfg.Controllers.HTTP.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Controllers.HTTP.Addr)
	}

	t.Setenv("PROOFBOX_CONTROLLERS_HTTP_ADDR", "127.0.0.1:8000")
	cfg = Defaults()
	ApplyEnvOverrides(&cfg)
	if cfg.Controllers.HTTP.Addr != ":8080" {
		t.Fatalf("explicit addr should win over PORT, got %q", cfg.Controllers.HTTP.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"ds18b20 + gpio", func(c *Config) { c.Sensor.Kind = "ds18b20"; c.Actuator.Kind = "gpio" }, nil},
		{"dht22 + log", func(c *Config) { c.Sensor.Kind = "dht22"; c.Actuator.Kind = "log" }, nil},
		{"unknown sensor", func(c *Config) { c.Sensor.Kind = "thermistor" }, ErrUnknownSensor},
		{"unknown actuator", func(c *Config) { c.Actuator.Kind = "relay" }, ErrUnknownActuator},
		{"modbus needs addr", func(c *Config) { c.Sensor.Kind = "modbus"; c.Actuator.Kind = "log" }, ErrMissingModbusAddr},
		{"gpio needs pin", func(c *Config) { c.Sensor.Kind = "dht22"; c.Actuator.Kind = "gpio"; c.Actuator.Pin = "" }, ErrMissingGPIOPin},
		{"simulated sensor alone", func(c *Config) { c.Actuator.Kind = "log" }, ErrSimulatorMismatch},
		{"simulated actuator alone", func(c *Config) { c.Sensor.Kind = "dht22" }, ErrSimulatorMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestYAML_MasksPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Controllers.MQTT.Password = "hunter2"
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked:\n%s", s)
	}
	if !strings.Contains(s, "upper_threshold: 25") {
		t.Fatalf("missing heater config:\n%s", s)
	}
	if cfg.Controllers.MQTT.Password != "hunter2" {
		t.Fatal("YAML must not mutate the receiver")
	}
}

func TestLoopConfig(t *testing.T) {
	cfg := Defaults()
	lc, err := cfg.LoopConfig()
	if err != nil {
		t.Fatalf("LoopConfig: %v", err)
	}
	if lc.UpperThreshold != 25 || lc.LowerThreshold != 23.9 || lc.InitialState != hysteresis.Off ||
		lc.PollInterval != 2*time.Second || lc.FailSafeAfter != 0 || !lc.OffOnExit {
		t.Fatalf("loop config = %+v", lc)
	}

	cfg.Heater.InitialState = "warm"
	if _, err := cfg.LoopConfig(); !errors.Is(err, hysteresis.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestBuildIO_SimulatedSharesChamber(t *testing.T) {
	io, err := Defaults().BuildIO()
	if err != nil {
		t.Fatalf("BuildIO: %v", err)
	}
	defer io.Close()

	if io.Chamber == nil {
		t.Fatal("expected a chamber")
	}
	if any(io.Sensor) != any(io.Actuator) {
		t.Fatal("simulated sensor and actuator should be the same chamber")
	}
}

func TestBuildIO_Hardware(t *testing.T) {
	cfg := Defaults()
	cfg.Sensor.Kind = "ds18b20"
	cfg.Sensor.BasePath = t.TempDir()
	cfg.Actuator.Kind = "log"
	writeW1Slave(t, cfg.Sensor.BasePath, "28-0316a2799aff")

	io, err := cfg.BuildIO()
	if err != nil {
		t.Fatalf("BuildIO: %v", err)
	}
	defer io.Close()
	if io.Chamber != nil {
		t.Fatal("no chamber expected")
	}
	if io.Actuator.Name() != "log" {
		t.Fatalf("actuator = %s", io.Actuator.Name())
	}

	l, err := cfg.BuildLoop(io)
	if err != nil {
		t.Fatalf("BuildLoop: %v", err)
	}
	if got := l.Get().UpperThreshold; got != 25 {
		t.Fatalf("upper = %v", got)
	}

	v, err := io.Sensor.Read(t.Context())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != 23.125 {
		t.Fatalf("temperature = %v, want 23.125", v)
	}
}

func writeW1Slave(t *testing.T, base, rom string) {
	t.Helper()
	dir := filepath.Join(base, rom)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"
	if err := os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAnnounceDS18B20(t *testing.T) {
	bus := t.TempDir()
	writeW1Slave(t, bus, "28-0000075a1b2c")
	writeW1Slave(t, bus, "28-0316a2799aff")
	if err := os.Mkdir(filepath.Join(bus, "w1_bus_master1"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		basePath string
		device   string
		want     bool
	}{
		{"any device", bus, "", true},
		{"configured device present", bus, "28-0316a2799aff", true},
		{"configured device missing", bus, "28-ffffffffffff", false},
		{"empty bus", t.TempDir(), "", false},
		{"no bus", filepath.Join(bus, "missing"), "", false},
	}
	for _, tt := range tests {
		if got := announceDS18B20(tt.basePath, tt.device); got != tt.want {
			t.Fatalf("%s: announceDS18B20 = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuildIO_ModbusSensor(t *testing.T) {
	cfg := Defaults()
	cfg.Sensor.Kind = "modbus"
	cfg.Sensor.ModbusAddr = "127.0.0.1:1"
	cfg.Actuator.Kind = "log"

	io, err := cfg.BuildIO()
	if err != nil {
		t.Fatalf("BuildIO: %v", err)
	}
	if len(io.closers) != 1 {
		t.Fatalf("closers = %d, want 1", len(io.closers))
	}
	if err := io.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBuildIO_RejectsInvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Sensor.Kind = "thermistor"
	if _, err := cfg.BuildIO(); !errors.Is(err, ErrUnknownSensor) {
		t.Fatalf("err = %v, want ErrUnknownSensor", err)
	}
}

func TestBuildLoop_InvalidThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Heater.LowerThreshold = cfg.Heater.UpperThreshold
	io, err := cfg.BuildIO()
	if err != nil {
		t.Fatalf("BuildIO: %v", err)
	}
	if _, err := cfg.BuildLoop(io); !errors.Is(err, hysteresis.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}
