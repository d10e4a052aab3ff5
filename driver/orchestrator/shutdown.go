package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/tracing"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/common/utils"
)

// Shutdown waits for the worker nodes to finish, stops the parameter servers, records the outcome of
// the run, and waits until the engine has no active jobs.
//
// streaming must be passed if the cluster was fed from a stream. Shutdown returns an error wrapping
// types.ErrLaunchFailed if the run failed.
func (c *Cluster) Shutdown(ctx context.Context, streaming engine.StreamingContext) error {
	c.mu.Lock()
	if c.shuttingDown || c.state == StateTerminated {
		c.mu.Unlock()
		return types.ErrClusterTerminated
	}
	c.shuttingDown = true
	c.mu.Unlock()

	span, ctx := tracing.StartSpan(ctx, c.tracer, "cluster.shutdown")
	defer span.Finish()
	start := time.Now()

	c.drain(ctx, streaming)

	runErr := c.rc.Status.Err()
	if runErr != nil {
		c.log.Error(utils.RedStyle.Render("Run failed: %v"), runErr)
		c.finalize(types.OutcomeFailed, runErr)
		c.engine.CancelAllJobs()
	}

	c.setState(StateStoppingServers)
	stopErr := c.stopParameterServers()

	c.setState(StateFinalizing)
	c.finalize(types.OutcomeFinished, nil)

	c.awaitIdle(ctx)

	if !c.supervisor.Join(c.intervals.SupervisorJoin) {
		c.log.Warn("Launch has not returned after %v.", c.intervals.SupervisorJoin)
	}

	_ = c.server.Stop()
	c.rc.Reporter.Close()
	c.setState(StateTerminated)
	c.metrics.ObservePhase("shutdown", time.Since(start).Seconds())

	outcome := c.rc.Reporter.Outcome()
	if outcome == types.OutcomeFinished {
		c.log.Info(utils.GreenStyle.Render("Cluster %s shut down. Experiment %v is %v."), c.ID(), c.rc.Reporter.Key(), outcome)
	} else {
		c.log.Warn(utils.OrangeStyle.Render("Cluster %s shut down. Experiment %v is %v."), c.ID(), c.rc.Reporter.Key(), outcome)
	}

	if runErr != nil {
		return errors.Wrap(types.ErrLaunchFailed, runErr.Error())
	}
	return stopErr
}

// drain waits for the worker nodes with the strategies of the cluster's mode. It returns early if
// the run fails. Draining is skipped if the run failed before Shutdown was called.
func (c *Cluster) drain(ctx context.Context, streaming engine.StreamingContext) {
	if !c.setState(StateDraining) {
		c.log.Warn("Not waiting for worker nodes: cluster is %v.", c.State())
		return
	}

	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.rc.Status.Failed():
			cancel()
		case <-drainCtx.Done():
		}
	}()

	strategies := c.completionStrategies(streaming)
	names := make([]string, 0, len(strategies))
	for _, strategy := range strategies {
		names = append(names, strategy.Name())
	}
	c.log.Info("Waiting for worker nodes to finish (%v).", names)

	err := WaitForCompletion(drainCtx, strategies...)
	if err == nil {
		return
	}

	if c.rc.Status.Err() == nil {
		c.rc.Status.Fail(err)
	}
	c.setState(StateFailedRunning)
}

func (c *Cluster) completionStrategies(streaming engine.StreamingContext) []CompletionStrategy {
	if streaming != nil {
		s := NewStreamingCompletion(streaming, c.server.Done)
		s.Tick = c.intervals.StreamingTick
		return []CompletionStrategy{s}
	}

	shutdownWorkers := &ScheduledShutdown{Run: c.shutdownWorkers}
	if c.rc.InputMode == types.InputModeDataParallelFeed {
		return []CompletionStrategy{shutdownWorkers}
	}

	debounced := NewDebouncedTaskCount(c.engine.StatusTracker(), c.rc.NumParameterServers())
	debounced.Interval = c.intervals.StatusPoll
	debounced.RequiredSamples = c.intervals.RequiredSamples
	debounced.OnSample = func() {
		c.metrics.IncCompletionSamples(c.ID(), debounced.Name())
	}
	return []CompletionStrategy{debounced, shutdownWorkers}
}

// shutdownWorkers runs the worker shutdown partition once per worker node.
func (c *Cluster) shutdownWorkers(ctx context.Context) error {
	workers := 0
	for _, record := range c.Registry() {
		if record.JobName != types.RoleParameterServer {
			workers++
		}
	}

	if workers == 0 {
		return nil
	}

	c.mu.Lock()
	feeder := c.feeder
	c.mu.Unlock()

	_, err := c.engine.RunJob(ctx, engine.Range(workers, workers), feeder.Shutdown())
	return err
}

// stopParameterServers delivers the stop sentinel to every parameter server and waits for each to
// consume it.
func (c *Cluster) stopParameterServers() error {
	var firstErr error
	for _, record := range c.Registry() {
		if record.JobName != types.RoleParameterServer {
			continue
		}

		c.log.Debug("Stopping %s:%d.", record.JobName, record.TaskIndex)
		ctx, cancel := context.WithTimeout(context.Background(), c.intervals.ControlTimeout)
		err := c.dialer.StopNode(ctx, record)
		cancel()

		if err != nil {
			c.log.Error("Failed to stop %s:%d: %v", record.JobName, record.TaskIndex, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// awaitIdle polls the engine until it has no active jobs.
func (c *Cluster) awaitIdle(ctx context.Context) {
	tracker := c.engine.StatusTracker()
	for {
		active := tracker.ActiveJobIDs()
		if len(active) == 0 {
			return
		}

		c.log.Debug("Waiting for %d active job(s) to finish: %v", len(active), active)
		timer := time.NewTimer(c.intervals.DrainPoll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.log.Warn("Stopped waiting for %d active job(s): %v", len(active), ctx.Err())
			return
		}
	}
}
