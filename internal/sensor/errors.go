package sensor

import "errors"

var (
	ErrNoDevice     = errors.New("no sensor device found")
	ErrChecksum     = errors.New("sensor checksum mismatch")
	ErrPowerOnReset = errors.New("sensor returned power-on reset value")
	ErrOutOfRange   = errors.New("sensor value out of range")
	ErrEmpty        = errors.New("sensor returned an empty value")
	ErrNoReading    = errors.New("remote sensor has no reading yet")
	ErrStale        = errors.New("remote sensor is failing, value is stale")
)
