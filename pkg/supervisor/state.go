package supervisor

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Observer is told about lifecycle changes as they happen. Calls come from the
// loop goroutine and must not block.
type Observer interface {
	StateChanged(state State)
	ProxyChanged(running bool)
	WorldChanged(name string, running bool)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)        {}
func (nopObserver) ProxyChanged(bool)         {}
func (nopObserver) WorldChanged(string, bool) {}
