package delivery

// State is a conversation state from one user's viewpoint.
type State uint8

const (
	// StateIdle means no operation is in flight.
	StateIdle State = iota
	// StateSending means a send is resolving keys and wrapping.
	StateSending
	// StateSent means the message was enqueued for the recipient.
	StateSent
	// StateReceiving means a drain is in progress.
	StateReceiving
	// StateDelivered means messages were fetched but not yet acknowledged.
	StateDelivered
	// StateRead means a delivered message was acknowledged and erased.
	StateRead
	// StatePurged means the conversation's messages were deleted outright.
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateReceiving:
		return "receiving"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	case StatePurged:
		return "purged"
	default:
		return "idle"
	}
}

// transitions is the legal state graph. Terminal states map to nil.
var transitions = map[State][]State{
	StateIdle:      {StateSending, StateReceiving},
	StateSending:   {StateSent, StateIdle},
	StateReceiving: {StateDelivered, StateIdle},
	StateDelivered: {StateRead, StatePurged},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
