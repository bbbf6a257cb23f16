package hysteresis

// Controller is a two-threshold bang-bang controller for a heater.
// At or above upper the heater goes off, at or below lower it goes on,
// in between the last state is kept.
//
// A Controller has a single owner and is not safe for concurrent use.
type Controller struct {
	upper float64
	lower float64
	state State
}

func New(upper, lower float64, initial State) (*Controller, error) {
	// written so that NaN on either side is rejected as well
	if !(lower < upper) {
		return nil, ErrInvalidConfiguration
	}
	if !initial.Valid() {
		return nil, ErrInvalidState
	}
	return &Controller{upper: upper, lower: lower, state: initial}, nil
}

// Update feeds one reading and returns the command to apply.
// A failed reading never moves the state.
func (c *Controller) Update(r Reading) Command {
	prev := c.state
	if r.OK() {
		if r.Value >= c.upper {
			c.state = Off
		} else if r.Value <= c.lower {
			c.state = On
		}
	}
	return Command{State: c.state, Changed: c.state != prev}
}

// Force overrides the state regardless of thresholds.
func (c *Controller) Force(s State) (Command, error) {
	if !s.Valid() {
		return Command{State: c.state}, ErrInvalidState
	}
	prev := c.state
	c.state = s
	return Command{State: s, Changed: s != prev}, nil
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Thresholds() (upper, lower float64) {
	return c.upper, c.lower
}
