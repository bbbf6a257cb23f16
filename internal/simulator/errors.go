package simulator

import "errors"

var (
	ErrNegativeHeatLossCoefficient = errors.New("heat loss coefficient must be greater or equal to zero")
	ErrNegativeHeaterPower         = errors.New("heater power must be greater or equal to zero")
	ErrInvalidFailureRate          = errors.New("failure rate must be within [0, 1)")
	ErrSimulatedFailure            = errors.New("simulated sensor failure")
)
