package publisher

// state is the publisher lifecycle phase.
type state int

const (
	stateNoSubscriber state = iota
	stateActive
	stateCompleted
	stateErrored
	stateCancelled
)

func (s state) String() string {
	switch s {
	case stateNoSubscriber:
		return "no_subscriber"
	case stateActive:
		return "active"
	case stateCompleted:
		return "completed"
	case stateErrored:
		return "errored"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether the state is one of the three final phases.
func (s state) terminal() bool {
	return s == stateCompleted || s == stateErrored || s == stateCancelled
}

// Snapshot is a point-in-time view of publisher state.
type Snapshot struct {
	// ID is the publisher instance identifier.
	ID string
	// State is the lifecycle phase name.
	State string
	// Demand is outstanding granted demand.
	Demand int64
	// Buffered is the number of undelivered elements.
	Buffered int
	// ReadsSuspended reports whether upstream reads are paused.
	ReadsSuspended bool
	// UpstreamCompleted reports whether upstream signaled end of stream.
	UpstreamCompleted bool
	// Delivered is the number of elements delivered to the subscriber.
	Delivered int64
}
