package simulator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// maxStep bounds a single integration step so long gaps between reads
// do not overshoot.
const maxStep = time.Second

type ChamberParams struct {
	InitialTemperature float64
	HeatLoss           HeatLossParams
	HeaterPower        float64 // °C gained per second while the heater is on
	FailureRate        float64 // probability that a read fails
}

func (params *ChamberParams) Validate() error {
	if err := params.HeatLoss.Validate(); err != nil {
		return err
	}
	if params.HeaterPower < 0 {
		return ErrNegativeHeaterPower
	}
	if params.FailureRate < 0 || params.FailureRate >= 1 {
		return ErrInvalidFailureRate
	}
	return nil
}

// Chamber is a simulated proofing box. It is both the sensor and the
// heater output of the loop, and advances its physics with wall clock time
// between calls.
type Chamber struct {
	mu          sync.Mutex
	params      ChamberParams
	loss        *HeatLoss
	temperature float64
	heater      hysteresis.State
	last        time.Time
	now         func() time.Time
	rnd         *rand.Rand
}

type Option func(*Chamber)

func WithClock(now func() time.Time) Option {
	return func(c *Chamber) { c.now = now }
}

func WithSeed(seed uint64) Option {
	return func(c *Chamber) { c.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func NewChamber(params ChamberParams, opts ...Option) (*Chamber, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	loss, err := NewHeatLoss(params.HeatLoss)
	if err != nil {
		return nil, err
	}
	c := &Chamber{
		params:      params,
		loss:        loss,
		temperature: params.InitialTemperature,
		heater:      hysteresis.Off,
		now:         time.Now,
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.last = c.now()
	return c, nil
}

func (c *Chamber) Name() string { return "simulated" }

func (c *Chamber) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	if c.params.FailureRate > 0 && c.rnd.Float64() < c.params.FailureRate {
		return 0, ErrSimulatedFailure
	}
	return c.temperature, nil
}

func (c *Chamber) Set(ctx context.Context, s hysteresis.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Valid() {
		return hysteresis.ErrInvalidState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	c.heater = s
	return nil
}

// Step advances the simulation by dt without looking at the clock.
func (c *Chamber) Step(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step(dt)
}

func (c *Chamber) Temperature() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temperature
}

// Equilibrium is the highest temperature the chamber reaches with the
// heater left on.
func (c *Chamber) Equilibrium() float64 {
	return c.loss.Equilibrium(c.params.HeaterPower)
}

func (c *Chamber) Heater() hysteresis.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heater
}

func (c *Chamber) advance() {
	now := c.now()
	if dt := now.Sub(c.last); dt > 0 {
		c.step(dt)
	}
	c.last = now
}

func (c *Chamber) step(dt time.Duration) {
	for dt > 0 {
		d := min(dt, maxStep)
		delta := c.loss.DeltaTemperature(c.temperature, d)
		if c.heater == hysteresis.On {
			delta += c.params.HeaterPower * d.Seconds()
		}
		c.temperature += delta
		dt -= d
	}
}
