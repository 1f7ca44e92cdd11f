package pipeline

import "log/slog"

// State is one stop in a unit's lifecycle.
type State string

const (
	StatePending     State = "pending"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateReconciling State = "reconciling"
	StateRetrying    State = "retrying"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event is emitted on every state transition. It is the only coupling
// to the shell displaying progress.
type Event struct {
	Unit   string
	State  State
	Detail string
}

// emitter never blocks the pipeline on the shell's presentation logic:
// when the channel's buffer is full the event is dropped and logged.
type emitter struct {
	ch chan<- Event
}

func (e emitter) emit(unit string, state State, detail string) {
	if e.ch == nil {
		return
	}
	select {
	case e.ch <- Event{Unit: unit, State: state, Detail: detail}:
	default:
		slog.Warn("dropping status event, shell is not keeping up",
			"unit", unit, "state", string(state))
	}
}
