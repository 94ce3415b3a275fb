package gateway

// State is the session lifecycle state.
type State int

const (
	Anonymous State = iota
	Authenticated
	RefreshInFlight
	Expired
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case RefreshInFlight:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
