package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfjson "github.com/knadh/koanf/parsers/json"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/proofbox/internal/sensor"
)

const EnvPrefix = "PROOFBOX_"

type Config struct {
	DeviceID    string            `koanf:"device_id" yaml:"device_id"`
	Heater      HeaterConfig      `koanf:"heater" yaml:"heater"`
	Sensor      SensorConfig      `koanf:"sensor" yaml:"sensor"`
	Actuator    ActuatorConfig    `koanf:"actuator" yaml:"actuator"`
	Simulator   SimulatorConfig   `koanf:"simulator" yaml:"simulator"`
	Controllers ControllersConfig `koanf:"controllers" yaml:"controllers"`
}

type HeaterConfig struct {
	UpperThreshold float64       `koanf:"upper_threshold" yaml:"upper_threshold"`
	LowerThreshold float64       `koanf:"lower_threshold" yaml:"lower_threshold"`
	InitialState   string        `koanf:"initial_state" yaml:"initial_state"` // "on" | "off"
	PollInterval   time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	FailSafeAfter  int           `koanf:"fail_safe_after" yaml:"fail_safe_after"` // 0 disables
	OffOnExit      bool          `koanf:"off_on_exit" yaml:"off_on_exit"`
}

type SensorConfig struct {
	Kind           string        `koanf:"kind" yaml:"kind"`               // "ds18b20" | "dht22" | "modbus" | "simulated"
	Device         string        `koanf:"device" yaml:"device"`           // ds18b20 ROM id, or dht22 IIO device dir
	BasePath       string        `koanf:"base_path" yaml:"base_path"`     // w1 devices dir
	ModbusAddr     string        `koanf:"modbus_addr" yaml:"modbus_addr"` // host:port
	ModbusUnitID   byte          `koanf:"modbus_unit_id" yaml:"modbus_unit_id"`
	ModbusRegister uint16        `koanf:"modbus_register" yaml:"modbus_register"`
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout"`
}

type ActuatorConfig struct {
	Kind      string `koanf:"kind" yaml:"kind"` // "gpio" | "log" | "simulated"
	Pin       string `koanf:"pin" yaml:"pin"`
	ActiveLow bool   `koanf:"active_low" yaml:"active_low"`
}

type SimulatorConfig struct {
	InitialTemperature  float64 `koanf:"initial_temperature" yaml:"initial_temperature"`
	RoomTemperature     float64 `koanf:"room_temperature" yaml:"room_temperature"`
	HeatLossCoefficient float64 `koanf:"heat_loss_coefficient" yaml:"heat_loss_coefficient"`
	HeaterPower         float64 `koanf:"heater_power" yaml:"heater_power"`
	FailureRate         float64 `koanf:"failure_rate" yaml:"failure_rate"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http" yaml:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt" yaml:"mqtt"`
	MODBUS ModbusConfig `koanf:"modbus" yaml:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	BrokerURL       string        `koanf:"broker_url" yaml:"broker_url"`
	ClientID        string        `koanf:"client_id" yaml:"client_id"`
	BaseTopic       string        `koanf:"base_topic" yaml:"base_topic"`
	QoS             byte          `koanf:"qos" yaml:"qos"`
	RetainStatus    bool          `koanf:"retain_status" yaml:"retain_status"`
	PublishInterval time.Duration `koanf:"publish_interval" yaml:"publish_interval"`
	Username        string        `koanf:"username" yaml:"username"`
	Password        string        `koanf:"password" yaml:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	UnitID  byte   `koanf:"unit_id" yaml:"unit_id"`
}

var (
	ErrUnknownSensor      = errors.New("unknown sensor kind")
	ErrUnknownActuator    = errors.New("unknown actuator kind")
	ErrSimulatorMismatch  = errors.New("simulated sensor and simulated actuator go together")
	ErrMissingModbusAddr  = errors.New("sensor.modbus_addr is required for the modbus sensor")
	ErrMissingGPIOPin     = errors.New("actuator.pin is required for the gpio actuator")
	ErrUnsupportedFileExt = errors.New("unsupported config extension")
)

// Defaults: heater on GPIO12, off at 25°C, on at 23.9°C, checked every 2s.
func Defaults() Config {
	return Config{
		DeviceID: "proofbox",
		Heater: HeaterConfig{
			UpperThreshold: 25,
			LowerThreshold: 23.9,
			InitialState:   "off",
			PollInterval:   2 * time.Second,
			OffOnExit:      true,
		},
		Sensor: SensorConfig{
			Kind:         "simulated",
			BasePath:     sensor.W1DevicesPath,
			ModbusUnitID: 1,
			Timeout:      2 * time.Second,
		},
		Actuator: ActuatorConfig{
			Kind: "simulated",
			Pin:  "GPIO12",
		},
		Simulator: SimulatorConfig{
			InitialTemperature:  21,
			RoomTemperature:     18,
			HeatLossCoefficient: 1e-3,
			HeaterPower:         0.02,
		},
		Controllers: ControllersConfig{
			HTTP: HTTPConfig{Addr: ":8080"},
			MQTT: MQTTConfig{
				BrokerURL:       "tcp://localhost:1883",
				PublishInterval: 1 * time.Second,
			},
			MODBUS: ModbusConfig{Addr: ":1502", UnitID: 1},
		},
	}
}

// LoadConfig layers defaults, the optional config file and PROOFBOX_*
// environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	envOpt := env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}
	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Config file missing → use defaults
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = koanfyaml.Parser()
	case ".json":
		parser = koanfjson.Parser()
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedFileExt, ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// envKeyTransform maps an env var name (prefix already stripped) to a koanf
// key: HEATER_UPPER_THRESHOLD -> heater.upper_threshold,
// CONTROLLERS_MQTT_BROKER_URL -> controllers.mqtt.broker_url.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "_")

	switch parts[0] {
	case "controllers":
		if len(parts) < 3 {
			return s
		}
		return "controllers." + parts[1] + "." + strings.Join(parts[2:], "_")
	case "heater", "sensor", "actuator", "simulator":
		if len(parts) < 2 {
			return s
		}
		return parts[0] + "." + strings.Join(parts[1:], "_")
	default:
		return s
	}
}

// ApplyEnvOverrides supports PORT (common in containers) for the HTTP surface.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "CONTROLLERS_HTTP_ADDR"); v != "" {
		return
	}
	if v := os.Getenv("PORT"); v != "" {
		// listen on all interfaces on that port
		cfg.Controllers.HTTP.Addr = ":" + v
	}
}

func (c Config) Validate() error {
	switch c.Sensor.Kind {
	case "ds18b20", "dht22", "simulated":
	case "modbus":
		if c.Sensor.ModbusAddr == "" {
			return ErrMissingModbusAddr
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownSensor, c.Sensor.Kind)
	}
	switch c.Actuator.Kind {
	case "log", "simulated":
	case "gpio":
		if c.Actuator.Pin == "" {
			return ErrMissingGPIOPin
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownActuator, c.Actuator.Kind)
	}
	if (c.Sensor.Kind == "simulated") != (c.Actuator.Kind == "simulated") {
		return ErrSimulatorMismatch
	}
	return nil
}

// YAML renders the effective config with secrets masked.
func (c Config) YAML() ([]byte, error) {
	if c.Controllers.MQTT.Password != "" {
		c.Controllers.MQTT.Password = "********"
	}
	return yaml.Marshal(c)
}
