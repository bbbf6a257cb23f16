package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/ports"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

type Config struct {
	DeviceID string

	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// <BaseTopic>/status, <BaseTopic>/availability, <BaseTopic>/set/<field>
	BaseTopic string

	QoS             byte
	RetainStatus    bool
	PublishInterval time.Duration
}

type Controller struct {
	svc ports.HeaterService
	cfg Config

	client mqtt.Client
}

func New(svc ports.HeaterService, cfg Config) (*Controller, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "proofbox/" + cfg.DeviceID
	}
	cfg.BaseTopic = strings.TrimRight(cfg.BaseTopic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "proofbox-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	return &Controller{svc: svc, cfg: cfg}, nil
}

// clientOptions sets a retained "offline" will so subscribers learn when
// the box drops off the broker.
func (c *Controller) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2*time.Second).
		SetWill(c.topic("availability"), availabilityOffline, c.cfg.QoS, true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// (re)subscribe and announce on every connect
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		topic := c.topic("set/+")
		if tok := cl.Subscribe(topic, c.cfg.QoS, c.onMessage); tok.Wait() && tok.Error() != nil {
			ui.Error("mqtt: subscribe %s: %v", topic, tok.Error())
		}
		c.announce(cl, availabilityOnline)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		ui.Warning("mqtt: connection lost: %v", err)
	})
	return opts
}

func (c *Controller) Run(ctx context.Context) error {
	c.client = mqtt.NewClient(c.clientOptions())
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	ui.Info("mqtt connected to %s, publishing on %s", c.cfg.BrokerURL, c.topic("status"))

	err := c.publishLoop(ctx)

	c.announce(c.client, availabilityOffline)
	c.client.Disconnect(250)
	return err
}

// publishLoop publishes the status on every interval where it changed.
func (c *Controller) publishLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := c.publishStatus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cur := toDTO(c.svc.Get()); cur != last {
				last = c.publishStatus()
			}
		}
	}
}

func (c *Controller) announce(cl mqtt.Client, availability string) {
	tok := cl.Publish(c.topic("availability"), c.cfg.QoS, true, availability)
	if tok.WaitTimeout(time.Second) && tok.Error() != nil {
		ui.Warning("mqtt: publish availability: %v", tok.Error())
	}
}

func (c *Controller) publishStatus() statusDTO {
	dto := toDTO(c.svc.Get())
	b, err := json.Marshal(dto)
	if err != nil {
		ui.Error("mqtt: encode status: %v", err)
		return dto
	}
	c.client.Publish(c.topic("status"), c.cfg.QoS, c.cfg.RetainStatus, b)
	return dto
}

// statusDTO is comparable so the publish loop can detect changes.
// It has no reading timestamp, so repeated identical readings do not republish.
type statusDTO struct {
	Heater         string  `json:"heater"`
	UpperThreshold float64 `json:"upper_threshold"`
	LowerThreshold float64 `json:"lower_threshold"`
	Temperature    float64 `json:"temperature"`
	HasTemperature bool    `json:"has_temperature"`
	Humidity       float64 `json:"humidity,omitempty"`
	FailureStreak  int     `json:"failure_streak"`
	FailSafe       bool    `json:"fail_safe"`
	LastError      string  `json:"last_error,omitempty"`
}

// toDTO drops non-finite values: JSON cannot carry them, and NaN would
// never compare equal to the last published status.
func toDTO(s heater.Status) statusDTO {
	dto := statusDTO{
		Heater:         s.Heater.String(),
		UpperThreshold: s.UpperThreshold,
		LowerThreshold: s.LowerThreshold,
		FailureStreak:  s.FailureStreak,
		FailSafe:       s.FailSafe,
		LastError:      s.LastError,
	}
	if s.HasTemperature && isFinite(s.Temperature) {
		dto.Temperature = s.Temperature
		dto.HasTemperature = true
	}
	if s.HasHumidity && isFinite(s.Humidity) {
		dto.Humidity = s.Humidity
	}
	return dto
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type valueReq[T any] struct {
	Value *T `json:"value"`
}

type thresholdsReq struct {
	Upper *float64 `json:"upper"`
	Lower *float64 `json:"lower"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	prefix := c.topic("set/")
	field, ok := strings.CutPrefix(msg.Topic(), prefix)
	if !ok {
		return
	}

	upper, lower, err := c.thresholdsFor(field, msg.Payload())
	if err != nil {
		ui.Warning("mqtt: ignoring %s: %v", msg.Topic(), err)
		return
	}
	if err := c.svc.SetThresholds(upper, lower); err != nil {
		ui.Warning("mqtt: rejecting %s: %v", field, err)
	}
}

// thresholdsFor decodes a set/<field> payload into the full threshold pair.
func (c *Controller) thresholdsFor(field string, payload []byte) (upper, lower float64, err error) {
	cur := c.svc.Get()
	switch field {
	case "upper_threshold":
		upper, err = decodeValueStrict[float64](payload)
		return upper, cur.LowerThreshold, err
	case "lower_threshold":
		lower, err = decodeValueStrict[float64](payload)
		return cur.UpperThreshold, lower, err
	case "thresholds":
		var req thresholdsReq
		if err := decodeStrict(payload, &req); err != nil {
			return 0, 0, err
		}
		if req.Upper == nil || req.Lower == nil {
			return 0, 0, errors.New("fields 'upper' and 'lower' are required")
		}
		return *req.Upper, *req.Lower, nil
	default:
		return 0, 0, fmt.Errorf("unknown field %q", field)
	}
}

func (c *Controller) topic(suffix string) string {
	return c.cfg.BaseTopic + "/" + suffix
}

func decodeStrict(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	var req valueReq[T]
	if err := decodeStrict(b, &req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
