package device

import (
	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/ports"
)

// Device ties a device id to the heater loop it exposes to control surfaces.
type Device struct {
	ID   string
	Loop *heater.Loop
}

func New(id string, l *heater.Loop) *Device {
	return &Device{ID: id, Loop: l}
}

// Service returns the loop as seen by control surfaces.
func (d *Device) Service() ports.HeaterService {
	return d.Loop
}
