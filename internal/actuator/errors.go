package actuator

import "errors"

var (
	ErrUnknownPin   = errors.New("unknown gpio pin")
	ErrInvalidState = errors.New("refusing to apply invalid heater state")
)
