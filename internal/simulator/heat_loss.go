package simulator

import (
	"math"
	"time"
)

// HeatLossParams describe Newton cooling of the chamber toward the room it
// sits in.
type HeatLossParams struct {
	RoomTemperature float64
	Coefficient     float64 // 1/s, >= 0. 0 for a perfectly insulated chamber.
}

func (params *HeatLossParams) Validate() error {
	if params.Coefficient < 0 {
		return ErrNegativeHeatLossCoefficient
	}
	return nil
}

type HeatLoss struct {
	params HeatLossParams
}

func NewHeatLoss(params HeatLossParams) (*HeatLoss, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &HeatLoss{params: params}, nil
}

// DeltaTemperature is the change over dt for a chamber at chamberTemperature.
func (l *HeatLoss) DeltaTemperature(chamberTemperature float64, dt time.Duration) float64 {
	return l.params.Coefficient * (l.params.RoomTemperature - chamberTemperature) * dt.Seconds()
}

// Equilibrium is the temperature where a constant heat input of power °C/s
// balances the loss. Without loss it is +Inf for any positive power.
func (l *HeatLoss) Equilibrium(power float64) float64 {
	if l.params.Coefficient == 0 {
		if power > 0 {
			return math.Inf(1)
		}
		return l.params.RoomTemperature
	}
	return l.params.RoomTemperature + power/l.params.Coefficient
}
