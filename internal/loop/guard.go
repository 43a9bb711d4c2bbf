package loop

import "fmt"

// AbortReason classifies a guarded stop.
type AbortReason string

const (
	// AbortRepeat fires when an identical action would run twice in one
	// turn. A deterministic tool and a near-deterministic model would
	// just reproduce the same result and spin.
	AbortRepeat AbortReason = "repetition"
	// AbortStepLimit fires when the per-turn step budget is spent.
	AbortStepLimit AbortReason = "step_limit"
)

// Abort is a guard decision to stop the turn.
type Abort struct {
	Reason AbortReason
	Detail string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("turn aborted (%s): %s", a.Reason, a.Detail)
}

// Guard tracks executed action signatures and step counts for a single
// turn. It is created per turn and discarded afterward, so repeating
// an action across turns is always allowed.
type Guard struct {
	maxSteps int
	executed map[string]struct{}
}

// NewGuard creates a guard with the given step budget.
func NewGuard(maxSteps int) *Guard {
	return &Guard{
		maxSteps: maxSteps,
		executed: make(map[string]struct{}),
	}
}

// Check decides whether the action with the given signature may run as
// step stepIndex. A nil return means continue; the signature is then
// recorded so an identical action cannot run again this turn.
func (g *Guard) Check(signature string, stepIndex int) *Abort {
	if stepIndex >= g.maxSteps {
		return &Abort{Reason: AbortStepLimit, Detail: fmt.Sprintf("step budget of %d spent", g.maxSteps)}
	}
	if _, seen := g.executed[signature]; seen {
		return &Abort{Reason: AbortRepeat, Detail: "identical action already executed this turn"}
	}
	g.executed[signature] = struct{}{}
	return nil
}
