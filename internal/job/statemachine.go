package job

import "github.com/codeforge/orchestrator/internal/orcherr"

// transitions enumerates the legal edges of spec §4.6's table. A Job's
// current state must appear as a key and the requested target state must be
// present in its value set, or Transition refuses the mutation.
var transitions = map[State]map[State]bool{
	StateQueued: {
		StateRunning:   true, // dispatch
		StateCancelled: true, // cancel while still queued
	},
	StateRunning: {
		StateComplete:  true, // decide Complete
		StateFailed:    true, // decide Failed
		StateCancelled: true, // cancel
		StateTimedOut:  true, // deadline
		StateNeedsHelp: true, // step exhausted
	},
	StateNeedsHelp: {
		StateRunning:   true, // resume(help)
		StateCancelled: true, // cancel while suspended
	},
}

// Transition mutates j.State to to, enforcing spec §4.6's table. It refuses
// any mutation once j is terminal (spec §3 invariant), except that repeated
// requests for the same terminal state are treated as a no-op success so
// cancellation remains idempotent (spec §5).
func (j *Job) Transition(to State) error {
	if j.State == to {
		return nil
	}
	if j.State.IsTerminal() {
		return orcherr.New("job.Transition", orcherr.KindValidation, j.ID,
			"job "+j.ID+" is terminal ("+string(j.State)+"); no further transitions allowed", nil)
	}
	allowed, ok := transitions[j.State]
	if !ok || !allowed[to] {
		return orcherr.New("job.Transition", orcherr.KindValidation, j.ID,
			"illegal transition "+string(j.State)+" -> "+string(to), nil)
	}
	j.State = to
	j.Timestamps.LastUpdatedAt = nowFunc()
	if to.IsTerminal() {
		j.Timestamps.CompletedAt = j.Timestamps.LastUpdatedAt
	}
	return nil
}
