package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/metrics"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/tracing"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/common/utils"
	"github.com/scusemua/cluster-orchestrator/node"
)

var ErrInterrupted = errors.New("driver exited before the cluster was shut down")

// Cluster is a running cluster. It is returned by Orchestrator.Run once every node has registered.
type Cluster struct {
	log logger.Logger

	rc         *RunContext
	engine     engine.Engine
	server     *rendezvous.Server
	supervisor *LaunchSupervisor
	dialer     ControlDialer
	dashboard  node.Dashboard
	tracer     opentracing.Tracer
	metrics    *metrics.DriverPrometheusManager
	intervals  Intervals

	mu           sync.Mutex
	state        State
	registry     []types.NodeRecord
	feeder       *node.Feeder
	shuttingDown bool
}

func newCluster(o *Orchestrator, rc *RunContext, server *rendezvous.Server) *Cluster {
	c := &Cluster{
		rc:        rc,
		engine:    o.engine,
		server:    server,
		dialer:    o.dialer,
		dashboard: o.dashboard,
		tracer:    o.tracer,
		metrics:   o.metrics,
		intervals: o.intervals,
		state:     StateCreated,
	}
	config.InitLogger(&c.log, c)

	c.metrics.SetClusterState(rc.Meta.ClusterID, int(StateCreated))
	return c
}

func (c *Cluster) String() string {
	return fmt.Sprintf("Cluster[%s] ", c.rc.Meta.ClusterID)
}

func (c *Cluster) ID() string {
	return c.rc.Meta.ClusterID
}

// Meta returns the run's metadata.
func (c *Cluster) Meta() *types.RunMetadata {
	return c.rc.Meta
}

func (c *Cluster) InputMode() types.InputMode {
	return c.rc.InputMode
}

func (c *Cluster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the first error of the run, if any.
func (c *Cluster) Err() error {
	return c.rc.Status.Err()
}

// Record returns a copy of the run's experiment record.
func (c *Cluster) Record() experiment.Record {
	return c.rc.Reporter.Record()
}

// Registry returns the NodeRecords of every node, ordered by node index.
func (c *Cluster) Registry() []types.NodeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.NodeRecord(nil), c.registry...)
}

// StopRequested returns true once a node has asked for the cluster to be stopped.
func (c *Cluster) StopRequested() bool {
	return c.server.Done()
}

// TensorboardURL returns the URL of the chief's dashboard, if one was started.
func (c *Cluster) TensorboardURL() (string, bool) {
	for _, record := range c.Registry() {
		if record.DashboardPort != 0 {
			return fmt.Sprintf("http://%s:%d", record.Host, record.DashboardPort), true
		}
	}
	return "", false
}

func (c *Cluster) setState(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.canTransition(next) {
		c.log.Debug("Ignoring transition %v -> %v.", c.state, next)
		return false
	}

	c.log.Debug("%v -> %v", c.state, next)
	c.state = next
	c.metrics.SetClusterState(c.rc.Meta.ClusterID, int(next))
	return true
}

// reserve waits for every node to report its capabilities and to register.
func (c *Cluster) reserve(ctx context.Context, opts *RunOptions) error {
	span, ctx := tracing.StartSpan(ctx, c.tracer, "cluster.reserve")
	defer span.Finish()
	start := time.Now()

	// A launch that has already failed will never complete the capability check.
	capabilityCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.rc.Status.Failed():
			cancel()
		case <-capabilityCtx.Done():
		}
	}()

	reports, err := c.server.AwaitCapabilityCheck(capabilityCtx, opts.CapabilityTimeout)
	cancel()
	if err != nil {
		if launchErr := c.rc.Status.Err(); launchErr != nil {
			err = errors.Wrap(types.ErrLaunchFailed, launchErr.Error())
		}
		return c.abort(err)
	}

	accelerators := 0
	for _, report := range reports {
		if report.Accelerator {
			accelerators++
		}
	}
	c.log.Info("Capability check complete: %d/%d node(s) have an accelerator.", accelerators, len(reports))

	timeout := opts.ReservationTimeout
	if timeout == 0 {
		timeout = DefaultReservationTimeout
	}

	registry, err := c.server.AwaitReservations(ctx, c.rc.Status.Err, timeout)
	if err != nil {
		return c.abort(err)
	}

	if err = checkDuplicates(registry); err != nil {
		return c.abort(err)
	}

	c.log.Info("All %d node(s) registered.", len(registry))
	for _, record := range registry {
		c.log.Debug("%v", record)
	}

	if banner := tensorboardBanner(registry); banner != "" {
		c.log.Info("\n%s", banner)
	}

	feeder := node.NewFeeder(c.rc.Meta, registry, c.rc.Queues, c.dashboard)
	feeder.PollInterval = c.intervals.NodePoll
	if opts.FeedTimeout > 0 {
		feeder.FeedTimeout = opts.FeedTimeout
	}

	c.mu.Lock()
	c.registry = registry
	c.feeder = feeder
	c.mu.Unlock()

	c.metrics.SetRegisteredNodes(c.ID(), len(registry))
	c.metrics.ObservePhase("reserve", time.Since(start).Seconds())
	return nil
}

func checkDuplicates(registry []types.NodeRecord) error {
	seen := make(map[types.NodeID]struct{}, len(registry))
	for _, record := range registry {
		id := record.ID()
		if _, ok := seen[id]; ok {
			return &types.DuplicateNodeError{Host: id.Host, ExecutorID: id.ExecutorID}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// abort ends a run that failed before its cluster was handed to the caller.
func (c *Cluster) abort(cause error) error {
	c.log.Error(utils.RedStyle.Render("Cluster failed to start: %v"), cause)

	c.rc.Status.Fail(cause)
	c.engine.CancelAllJobs()
	c.finalize(types.OutcomeFailed, cause)

	_ = c.server.Stop()
	c.rc.Reporter.Close()
	c.setState(StateTerminated)
	return cause
}

// finalize records a terminal outcome, bounded by the exit timeout.
func (c *Cluster) finalize(outcome types.Outcome, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.intervals.ExitTimeout)
	defer cancel()

	recorded, err := c.rc.Reporter.Finalize(ctx, outcome, cause)
	if err != nil {
		c.log.Warn("Failed to record outcome %v: %v", outcome, err)
	}
	if recorded {
		c.metrics.IncRunOutcome(outcome.String())
	}
}

func (c *Cluster) handleLaunchFailure(err error) {
	c.setState(StateFailedRunning)
	c.finalize(types.OutcomeFailed, err)
}

// ExitHandler records the run as KILLED if it has not finished. It never waits on the cluster's nodes.
func (c *Cluster) ExitHandler() {
	if c.State() == StateTerminated {
		return
	}

	c.log.Warn("Driver is exiting while the cluster is %v.", c.State())
	c.finalize(types.OutcomeKilled, ErrInterrupted)
}
