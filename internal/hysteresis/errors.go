package hysteresis

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid configuration: lower threshold must be strictly below upper threshold")
	ErrInvalidState         = errors.New("invalid heater state")
	ErrNoReading            = errors.New("no reading")
)
