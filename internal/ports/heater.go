package ports

import "github.com/Agrid-Dev/proofbox/internal/heater"

// HeaterService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type HeaterService interface {
	Get() heater.Status
	SetThresholds(upper, lower float64) error
}
