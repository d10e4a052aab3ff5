package orchestrator

import (
	"sync"

	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/planner"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

// RunStatus holds the first error of a run. It is written by the launch supervisor and by shutdown,
// and read by the driver while it waits for reservations and during shutdown.
type RunStatus struct {
	mu     sync.Mutex
	err    error
	failed chan struct{}
}

func newRunStatus() *RunStatus {
	return &RunStatus{failed: make(chan struct{})}
}

// Fail records err if no error has been recorded yet. It returns true if err was recorded.
func (s *RunStatus) Fail(err error) bool {
	if err == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false
	}

	s.err = err
	close(s.failed)
	return true
}

// Err returns the recorded error, if any.
func (s *RunStatus) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Failed is closed once an error has been recorded.
func (s *RunStatus) Failed() <-chan struct{} {
	return s.failed
}

// RunContext is everything that belongs to a single call of Orchestrator.Run. It is handed to every
// goroutine the run starts; nothing about a run is kept in package state.
type RunContext struct {
	Meta      *types.RunMetadata
	Plan      *planner.ClusterPlan
	InputMode types.InputMode
	Queues    []string

	Status   *RunStatus
	Reporter *experiment.Reporter
}

func newRunContext(meta *types.RunMetadata, plan *planner.ClusterPlan, mode types.InputMode, queues []string) *RunContext {
	return &RunContext{
		Meta:      meta,
		Plan:      plan,
		InputMode: mode,
		Queues:    queues,
		Status:    newRunStatus(),
	}
}

// NumParameterServers returns the number of nodes that run until they are told to stop.
func (rc *RunContext) NumParameterServers() int {
	return rc.Plan.NumNodesWithRole(types.RoleParameterServer)
}
