package app

import (
	"context"
	"errors"

	"github.com/oklog/run"

	httpctrl "github.com/Agrid-Dev/proofbox/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/proofbox/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/proofbox/internal/controllers/mqtt"
	"github.com/Agrid-Dev/proofbox/internal/device"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

type runner interface {
	Run(ctx context.Context) error
}

// Run drives the heater loop and every enabled control surface until ctx
// is done or one of them fails.
func Run(ctx context.Context, cfg Config) error {
	io, err := cfg.BuildIO()
	if err != nil {
		return err
	}
	defer func() {
		if err := io.Close(); err != nil {
			ui.Warning("Closing sensor: %v", err)
		}
	}()

	loop, err := cfg.BuildLoop(io)
	if err != nil {
		return err
	}
	dev := device.New(cfg.DeviceID, loop)

	surfaces, err := cfg.surfaces(dev)
	if err != nil {
		return err
	}

	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	{
		g.Add(func() error {
			return loop.Run(inner)
		}, func(error) {
			cancel()
		})
	}
	for name, r := range surfaces {
		g.Add(func() error {
			err := r.Run(inner)
			ui.Info("%s controller stopped.", name)
			return err
		}, func(err error) {
			if err != nil && inner.Err() == nil {
				ui.Warning("%s controller: %v", name, err)
			}
			cancel()
		})
	}
	{
		g.Add(func() error {
			<-inner.Done()
			ui.Info("Received shutdown signal, exiting...")
			return nil
		}, func(error) {
			cancel()
		})
	}

	err = g.Run()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c Config) surfaces(dev *device.Device) (map[string]runner, error) {
	out := map[string]runner{}
	svc := dev.Service()

	if h := c.Controllers.HTTP; h.Enabled {
		out["http"] = httpctrl.New(svc, h.Addr, dev.ID)
	}
	if m := c.Controllers.MQTT; m.Enabled {
		ctrl, err := mqttctrl.New(svc, mqttctrl.Config{
			DeviceID:        dev.ID,
			BrokerURL:       m.BrokerURL,
			ClientID:        m.ClientID,
			BaseTopic:       m.BaseTopic,
			QoS:             m.QoS,
			RetainStatus:    m.RetainStatus,
			PublishInterval: m.PublishInterval,
			Username:        m.Username,
			Password:        m.Password,
		})
		if err != nil {
			return nil, err
		}
		out["mqtt"] = ctrl
	}
	if m := c.Controllers.MODBUS; m.Enabled {
		ctrl, err := modbusctrl.New(svc, modbusctrl.Config{
			DeviceID: dev.ID,
			Addr:     m.Addr,
			UnitID:   m.UnitID,
		})
		if err != nil {
			return nil, err
		}
		out["modbus"] = ctrl
	}
	return out, nil
}
