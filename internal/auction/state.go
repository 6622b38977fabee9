package auction

// State is the auction lifecycle phase.
type State int32

const (
	StateOpen State = iota
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
