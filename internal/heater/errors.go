package heater

import "errors"

var (
	ErrMissingSensor    = errors.New("heater loop needs a sensor")
	ErrMissingActuator  = errors.New("heater loop needs an actuator")
	ErrInvalidFailSafe  = errors.New("fail-safe threshold must be greater or equal to zero")
	ErrInvalidPollDelay = errors.New("poll interval must be greater or equal to zero")
)
