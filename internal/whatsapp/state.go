package whatsapp

// State is the lifecycle position of a tenant session.
type State int

const (
	StateUninitialized State = iota
	StateQRPending
	StateAuthenticated
	StateReady
	StateAuthFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateQRPending:
		return "qr-pending"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateAuthFailed:
		return "auth-failed"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateAuthFailed || s == StateDisconnected
}

// EventKind classifies what a client reported.
type EventKind int

const (
	EventQR EventKind = iota
	EventAuthenticated
	EventReady
	EventAuthFailed
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailed:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// Next applies a lifecycle event to a state. The second return value is
// false when the event does not move the session, in which case the state
// is returned unchanged.
func Next(from State, kind EventKind) (State, bool) {
	if from.Terminal() {
		return from, false
	}
	switch kind {
	case EventQR:
		if from == StateUninitialized || from == StateQRPending {
			return StateQRPending, true
		}
	case EventAuthenticated:
		if from == StateUninitialized || from == StateQRPending {
			return StateAuthenticated, true
		}
	case EventReady:
		if from == StateAuthenticated {
			return StateReady, true
		}
	case EventDisconnected:
		return StateDisconnected, true
	case EventAuthFailed:
		return StateAuthFailed, true
	}
	return from, false
}
