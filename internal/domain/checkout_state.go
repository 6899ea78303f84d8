package domain

type CheckoutState string

const (
	CheckoutStateIdle       CheckoutState = "IDLE"
	CheckoutStateDrafting   CheckoutState = "DRAFTING"
	CheckoutStateSubmitting CheckoutState = "SUBMITTING"
	CheckoutStateSucceeded  CheckoutState = "SUCCEEDED"
	CheckoutStateFailed     CheckoutState = "FAILED"
)

// checkoutTransitions lists the legal moves of the checkout machine.
// Failed may re-enter Drafting so the user can retry with the same draft;
// Succeeded is terminal for the draft.
var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutStateIdle:       {CheckoutStateDrafting},
	CheckoutStateDrafting:   {CheckoutStateSubmitting, CheckoutStateIdle},
	CheckoutStateSubmitting: {CheckoutStateSucceeded, CheckoutStateFailed},
	CheckoutStateFailed:     {CheckoutStateDrafting, CheckoutStateIdle},
	// Succeeded is terminal for the draft; a fresh draft may still begin.
	CheckoutStateSucceeded: {CheckoutStateDrafting, CheckoutStateIdle},
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateSucceeded
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}
