package hysteresis

import (
	"fmt"
	"strings"
)

// State is the commanded actuator state.
type State int

const (
	StateUnknown State = iota
	Off
	On
)

func (s State) Valid() bool {
	return s == Off || s == On
}

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return "unknown"
	}
}

// ParseState accepts "on" and "off", case insensitive.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return Off, nil
	case "on":
		return On, nil
	default:
		return StateUnknown, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Reading is either a measured temperature or a sensor failure. Only
// Measured builds a valid reading; the zero value is a failure.
type Reading struct {
	Value float64
	Err   error

	measured bool
}

func Measured(v float64) Reading {
	return Reading{Value: v, measured: true}
}

// Failed wraps a sensor error. A nil err still counts as a failure.
func Failed(err error) Reading {
	if err == nil {
		err = ErrNoReading
	}
	return Reading{Err: err}
}

func (r Reading) OK() bool {
	return r.measured && r.Err == nil
}

// Command is produced on every update, whether or not the state moved.
type Command struct {
	State   State
	Changed bool
}
