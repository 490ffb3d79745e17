package pinning

import "fmt"

// Phase is a step of the reconciliation state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCheckingConflicts
	PhaseRejected
	PhaseDelaying
	PhaseMutating
	PhaseSaving
	PhaseApplying
	PhasePolling
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCheckingConflicts:
		return "checking_conflicts"
	case PhaseRejected:
		return "rejected"
	case PhaseDelaying:
		return "delaying"
	case PhaseMutating:
		return "mutating"
	case PhaseSaving:
		return "saving"
	case PhaseApplying:
		return "applying"
	case PhasePolling:
		return "polling"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Op is the mutation a run performs.
type Op string

const (
	OpPin     Op = "pin"
	OpUnpin   Op = "unpin"
	OpReplace Op = "replace"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone           Outcome = "done"
	OutcomeRejected       Outcome = "rejected"
	OutcomeReloadDeferred Outcome = "reload_deferred"
	OutcomeFailed         Outcome = "failed"
)

// State is the transient per-run state. It is owned by one run and
// published as a copy on every transition.
type State struct {
	RunID        string   `json:"run_id"`
	Op           Op       `json:"op"`
	Phase        Phase    `json:"phase"`
	Foreign      []string `json:"foreign,omitempty"`
	Delayed      bool     `json:"delayed"`
	PollAttempts int      `json:"poll_attempts"`
}

func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseIdle; q <= PhaseFailed; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}
