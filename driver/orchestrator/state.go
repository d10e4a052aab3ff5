package orchestrator

import "fmt"

// State is the lifecycle state of a Cluster.
type State int

const (
	StateCreated State = iota
	StateReserving
	StateRunning
	StateFailedRunning
	StateDraining
	StateStoppingServers
	StateFinalizing
	StateTerminated
)

var stateNames = [...]string{
	StateCreated:         "CREATED",
	StateReserving:       "RESERVING",
	StateRunning:         "RUNNING",
	StateFailedRunning:   "FAILED_RUNNING",
	StateDraining:        "DRAINING",
	StateStoppingServers: "STOPPING_SERVERS",
	StateFinalizing:      "FINALIZING",
	StateTerminated:      "TERMINATED",
}

func (s State) String() string {
	if s < StateCreated || s > StateTerminated {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// canTransition reports whether a cluster may move from s to next.
//
// FAILED_RUNNING is reachable from any state before the servers are stopped, and leads straight to
// STOPPING_SERVERS. Every non-terminal state may be abandoned to TERMINATED when run fails.
func (s State) canTransition(next State) bool {
	switch next {
	case StateReserving:
		return s == StateCreated
	case StateRunning:
		return s == StateReserving
	case StateFailedRunning:
		return s == StateReserving || s == StateRunning || s == StateDraining
	case StateDraining:
		return s == StateRunning
	case StateStoppingServers:
		return s == StateDraining || s == StateFailedRunning
	case StateFinalizing:
		return s == StateStoppingServers
	case StateTerminated:
		return s != StateTerminated
	default:
		return false
	}
}
