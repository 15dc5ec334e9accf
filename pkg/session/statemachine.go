package session

// transitions holds the legal status adjacency. Terminal statuses have
// no outgoing edges.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusActive, StatusFailed},
	StatusActive:       {StatusIdle, StatusWaitingInput, StatusTerminated, StatusFailed},
	StatusIdle:         {StatusActive, StatusWaitingInput, StatusTerminated, StatusFailed},
	StatusWaitingInput: {StatusActive, StatusTerminated, StatusFailed},
	StatusTerminated:   {},
	StatusFailed:       {},
}

// CanTransition reports whether moving from one status to another is
// legal under the lifecycle state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidStateError when the transition
// is illegal, nil otherwise.
func ValidateTransition(id string, from, to Status) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	if !CanTransition(from, to) {
		return &InvalidStateError{SessionID: id, From: from, To: to}
	}
	return nil
}
