package node

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
)

var ErrManagerAlreadyRunning = errors.New("control channel manager already started on executor")

// executorState is what a bootstrap leaves behind on its executor.
type executorState struct {
	clusterID string
	manager   *channel.Manager

	// cancel stops a main function or control loop running in the background.
	cancel context.CancelFunc
}

// executors tracks the manager started on each executor of this process.
var executors = cmap.New[*executorState]()

func executorKey(host string, executorID string) string {
	return fmt.Sprintf("%s/%s", host, executorID)
}

// claimExecutor records state as the executor's current manager. It fails if the executor already
// runs a manager of the same cluster that has not been stopped, which happens when the engine
// retries a failed bootstrap on the same executor. Managers left over from other clusters are closed.
func claimExecutor(host string, executorID string, state *executorState) error {
	var (
		conflict *executorState
		replaced *executorState
	)

	executors.Upsert(executorKey(host, executorID), state, func(exist bool, existing *executorState, created *executorState) *executorState {
		if !exist {
			return created
		}

		if existing.manager.State() != channel.StateStopped && existing.clusterID == created.clusterID {
			conflict = existing
			return existing
		}

		replaced = existing
		return created
	})

	if conflict != nil {
		return errors.Wrapf(ErrManagerAlreadyRunning, "host=%s, executor=%s, state=%s", host, executorID, conflict.manager.State())
	}

	if replaced != nil {
		replaced.release()
	}

	return nil
}

// releaseExecutor removes the executor's manager if it is still the given one.
func releaseExecutor(host string, executorID string, state *executorState) {
	executors.RemoveCb(executorKey(host, executorID), func(key string, v *executorState, exists bool) bool {
		return exists && v == state
	})
	state.release()
}

func (s *executorState) release() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.manager.Close()
}

// ReleaseExecutors closes every manager started in this process. It is meant to be called once the
// driver that owns an in-process engine has shut its cluster down.
func ReleaseExecutors() {
	for _, key := range executors.Keys() {
		if state, ok := executors.Pop(key); ok {
			state.release()
		}
	}
}

// LocalManager returns the manager running on the given executor of this process, if any.
func LocalManager(host string, executorID string) (*channel.Manager, bool) {
	state, ok := executors.Get(executorKey(host, executorID))
	if !ok {
		return nil, false
	}
	return state.manager, true
}
