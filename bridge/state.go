package bridge

// State is the lifecycle state of a Session.
type State int

// Session states.
const (
	Unpaired State = iota
	Paired
	Closed
)

func (s State) String() string {
	switch s {
	case Unpaired:
		return "unpaired"
	case Paired:
		return "paired"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is something that happened to a Session.
type Event int

// Session events.
const (
	EventPair Event = iota
	EventNativeData
	EventNativeEOF
	EventNativeError
	EventRemoteMessage
	EventRemoteClosed
	EventWriteError
	EventShutdown
)

func (e Event) String() string {
	switch e {
	case EventPair:
		return "pair"
	case EventNativeData:
		return "native data"
	case EventNativeEOF:
		return "native client disconnected"
	case EventNativeError:
		return "native read failed"
	case EventRemoteMessage:
		return "remote message"
	case EventRemoteClosed:
		return "remote channel closed"
	case EventWriteError:
		return "write failed"
	case EventShutdown:
		return "server shutting down"
	default:
		return "unknown"
	}
}

// Action is the side effect a transition asks for.
type Action int

// Transition actions.
const (
	ActionIgnore Action = iota
	ActionAttach
	ActionReject
	ActionForward
	ActionTeardown
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionAttach:
		return "attach"
	case ActionReject:
		return "reject"
	case ActionForward:
		return "forward"
	case ActionTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Transition returns the state a session in s moves to on e, and what the
// caller has to do about it. It has no side effects.
func Transition(s State, e Event) (State, Action) {
	switch s {
	case Unpaired:
		switch e {
		case EventPair:
			return Paired, ActionAttach
		case EventNativeEOF, EventNativeError, EventShutdown:
			return Closed, ActionTeardown
		}
		return Unpaired, ActionIgnore
	case Paired:
		switch e {
		case EventPair:
			return Paired, ActionReject
		case EventNativeData, EventRemoteMessage:
			return Paired, ActionForward
		case EventNativeEOF, EventNativeError, EventRemoteClosed, EventWriteError, EventShutdown:
			return Closed, ActionTeardown
		}
		return Paired, ActionIgnore
	default:
		if e == EventPair {
			return Closed, ActionReject
		}
		return Closed, ActionIgnore
	}
}
