package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"
)

var ErrLaunchPanicked = errors.New("launch panicked")

// LaunchSupervisor runs the launch of a cluster's nodes in the background. The launch runs detached
// from the caller's context: only the engine's own task completion, or job cancellation, ends it.
//
// A launch error is recorded in the run's status and passed to the failure handler before the
// supervisor's goroutine exits, so it is visible to anyone polling the status afterward.
type LaunchSupervisor struct {
	log logger.Logger

	rc        *RunContext
	onFailure func(err error)
	done      chan struct{}
}

func startLaunchSupervisor(rc *RunContext, launch func(ctx context.Context) error, onFailure func(err error)) *LaunchSupervisor {
	s := &LaunchSupervisor{
		rc:        rc,
		onFailure: onFailure,
		done:      make(chan struct{}),
	}
	config.InitLogger(&s.log, s)

	go s.run(launch)
	return s
}

func (s *LaunchSupervisor) String() string {
	return fmt.Sprintf("LaunchSupervisor[%s] ", s.rc.Meta.ClusterID)
}

func (s *LaunchSupervisor) run(launch func(ctx context.Context) error) {
	defer close(s.done)

	err := s.invoke(launch)
	if err == nil {
		s.log.Debug("Launch completed.")
		return
	}

	s.log.Error("Launch failed: %v", err)
	if s.rc.Status.Fail(err) && s.onFailure != nil {
		s.onFailure(err)
	}
}

func (s *LaunchSupervisor) invoke(launch func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrLaunchPanicked, "%v", r)
		}
	}()

	return launch(context.Background())
}

// Done is closed once the launch has returned and its failure, if any, has been handled.
func (s *LaunchSupervisor) Done() <-chan struct{} {
	return s.done
}

// Join waits up to timeout for the launch to return. It returns false if it has not.
func (s *LaunchSupervisor) Join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}
