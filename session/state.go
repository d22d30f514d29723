package session

import (
	"encoding/json"
	"fmt"
)

// State represents where a session is in its lifecycle.
// Using a typed enum instead of strings provides compile-time safety
// and clearer code.
type State int

const (
	// StateStarting means the session record exists but the process spawn
	// has not completed yet.
	StateStarting State = iota

	// StateActive means the process is running and producing output.
	StateActive

	// StateWaitingForInput means the process appears blocked on an
	// interactive prompt.
	StateWaitingForInput

	// StateTerminating means termination was requested and the process has
	// not exited yet.
	StateTerminating

	// StateTerminated means the process exited after an explicit
	// termination request. Terminal.
	StateTerminated

	// StateFailed means the spawn failed or the process exited while the
	// session still expected it alive. Terminal.
	StateFailed
)

// String returns the wire name for the state, used by both adapters.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its wire name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a wire name back into a state.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []State{
		StateStarting, StateActive, StateWaitingForInput,
		StateTerminating, StateTerminated, StateFailed,
	} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", name)
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}
