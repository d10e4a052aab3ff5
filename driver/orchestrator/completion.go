package orchestrator

import (
	"context"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/engine"
)

const (
	DefaultStreamingTick    = time.Second
	DefaultStatusInterval   = 5 * time.Second
	DefaultRequiredSamples  = 3
	strategyStreaming       = "streaming"
	strategyDebounced       = "debounced_task_count"
	strategyScheduledFinish = "scheduled_shutdown"
)

// CompletionStrategy blocks until the worker nodes of a cluster have finished.
type CompletionStrategy interface {
	Name() string
	Wait(ctx context.Context) error
}

// WaitForCompletion runs each strategy in order.
func WaitForCompletion(ctx context.Context, strategies ...CompletionStrategy) error {
	for _, strategy := range strategies {
		if err := strategy.Wait(ctx); err != nil {
			return errors.Wrapf(err, "%s", strategy.Name())
		}
	}
	return nil
}

// StreamingCompletion polls a streaming context until it terminates. Once a node has asked for the
// cluster to stop, the streaming context is stopped gracefully, leaving the engine running.
type StreamingCompletion struct {
	log logger.Logger

	Streaming engine.StreamingContext

	// StopRequested reports whether a node has asked for the cluster to stop.
	StopRequested func() bool

	Tick time.Duration
}

func NewStreamingCompletion(streaming engine.StreamingContext, stopRequested func() bool) *StreamingCompletion {
	s := &StreamingCompletion{
		Streaming:     streaming,
		StopRequested: stopRequested,
		Tick:          DefaultStreamingTick,
	}
	config.InitLogger(&s.log, s)
	return s
}

func (s *StreamingCompletion) Name() string {
	return strategyStreaming
}

func (s *StreamingCompletion) Wait(ctx context.Context) error {
	for {
		terminated, err := s.Streaming.AwaitTerminationOrTimeout(s.Tick)
		if err != nil {
			return err
		}

		if terminated {
			s.log.Debug("Streaming context terminated.")
			return nil
		}

		if s.StopRequested != nil && s.StopRequested() {
			s.log.Info("Stop requested by a node. Stopping streaming context.")
			s.Streaming.Stop(false, true)
			return nil
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}
}

// DebouncedTaskCount samples the engine's status until no job is active, or until the only active
// tasks are the parameter servers' for RequiredSamples consecutive samples.
type DebouncedTaskCount struct {
	log logger.Logger

	Tracker             engine.StatusTracker
	NumParameterServers int

	Interval        time.Duration
	RequiredSamples int

	// OnSample, if set, is called once per matching sample.
	OnSample func()
}

func NewDebouncedTaskCount(tracker engine.StatusTracker, numParameterServers int) *DebouncedTaskCount {
	d := &DebouncedTaskCount{
		Tracker:             tracker,
		NumParameterServers: numParameterServers,
		Interval:            DefaultStatusInterval,
		RequiredSamples:     DefaultRequiredSamples,
	}
	config.InitLogger(&d.log, d)
	return d
}

func (d *DebouncedTaskCount) Name() string {
	return strategyDebounced
}

func (d *DebouncedTaskCount) Wait(ctx context.Context) error {
	matches := 0
	for {
		if len(d.Tracker.ActiveJobIDs()) == 0 {
			d.log.Debug("No active jobs remain.")
			return nil
		}

		if d.onlyServersActive() {
			matches++
			if d.OnSample != nil {
				d.OnSample()
			}
			d.log.Debug("Only the %d parameter server task(s) are active (%d/%d).", d.NumParameterServers, matches, d.RequiredSamples)

			if matches >= d.RequiredSamples {
				return nil
			}
		} else {
			matches = 0
		}

		timer := time.NewTimer(d.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (d *DebouncedTaskCount) onlyServersActive() bool {
	for _, stageID := range d.Tracker.ActiveStageIDs() {
		info, ok := d.Tracker.StageInfo(stageID)
		if ok && info.NumActiveTasks == d.NumParameterServers {
			return true
		}
	}
	return false
}

// ScheduledShutdown runs the shutdown job of the worker nodes. The job queues behind any job that is
// still feeding the workers.
type ScheduledShutdown struct {
	Run func(ctx context.Context) error
}

func (s *ScheduledShutdown) Name() string {
	return strategyScheduledFinish
}

func (s *ScheduledShutdown) Wait(ctx context.Context) error {
	return s.Run(ctx)
}
