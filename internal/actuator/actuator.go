package actuator

import (
	"context"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
)

// Actuator applies a heater state to the physical output.
// Set is called on every control cycle and must be idempotent.
type Actuator interface {
	Name() string
	Set(ctx context.Context, s hysteresis.State) error
}
