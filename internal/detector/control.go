package detector

import (
	"context"
	"time"

	"github.com/danmuck/acqctl/internal/status"
)

// Trigger selects how exposures are started.
type Trigger int

const (
	TriggerInternal Trigger = iota
	TriggerEdge
	TriggerConstantGate
	TriggerVariableGate
)

func (t Trigger) String() string {
	switch t {
	case TriggerInternal:
		return "internal"
	case TriggerEdge:
		return "edge"
	case TriggerConstantGate:
		return "constant_gate"
	case TriggerVariableGate:
		return "variable_gate"
	default:
		return "unknown"
	}
}

// Control arms and disarms acquisition hardware.
type Control interface {
	// Deadtime is the minimum spacing between exposures of the given length.
	Deadtime(exposure time.Duration) time.Duration
	// Arm starts acquiring num frames. A zero exposure keeps the current
	// setting. The returned status completes when the frames are acquired.
	Arm(ctx context.Context, trigger Trigger, num int, exposure time.Duration) (*status.Status, error)
	// Disarm stops acquisition. It is idempotent.
	Disarm(ctx context.Context) error
}
