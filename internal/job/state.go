package job

import "fmt"

// State is the runtime execution state of a job.
type State string

const (
	Pending   State = "pending"
	Ready     State = "ready"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	TimedOut  State = "timed_out"
	Skipped   State = "skipped"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	switch s {
	case Succeeded, Failed, TimedOut, Skipped:
		return true
	default:
		return false
	}
}

// States maps job ID to its current state.
type States map[string]State

// NewStates initializes every job to Pending.
func NewStates(jobs []Job) States {
	s := make(States, len(jobs))
	for _, j := range jobs {
		s[j.ID] = Pending
	}
	return s
}

// Transition performs a validated transition for a single job.
//
// The caller supplies the expected prior state so that races are observable.
// The map is mutated only if the transition is allowed.
func (s States) Transition(id string, from, to State) error {
	cur, ok := s[id]
	if !ok {
		return fmt.Errorf("unknown job in state: %q", id)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	s[id] = to
	return nil
}

func allowed(from, to State) bool {
	switch from {
	case Pending:
		return to == Ready || to == Skipped
	case Ready:
		return to == Running || to == Skipped
	case Running:
		return to == Succeeded || to == Failed || to == TimedOut
	default:
		return false
	}
}

// AllTerminal reports whether every job has finished.
func (s States) AllTerminal() bool {
	for _, st := range s {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}
