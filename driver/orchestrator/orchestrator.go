// Package orchestrator drives the lifecycle of a cluster: planning its roles, launching its nodes on
// the execution engine, waiting for them to register, feeding them, and shutting them down.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/consul"
	"github.com/scusemua/cluster-orchestrator/common/dfs"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/metrics"
	"github.com/scusemua/cluster-orchestrator/common/planner"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/tracing"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/common/utils"
	"github.com/scusemua/cluster-orchestrator/node"
)

const (
	DefaultReservationTimeout = 600 * time.Second
	DefaultNumEpochs          = 10

	recordModule = "cluster"
)

// DefaultQueues are created on every node when RunOptions.Queues is empty.
var DefaultQueues = []string{channel.QueueInput, channel.QueueOutput, channel.QueueError}

// LaunchFunc starts one node per node index of the run and returns once every node's bootstrap has
// returned. It is run by the LaunchSupervisor.
type LaunchFunc func(ctx context.Context, rc *RunContext, bootstrap engine.PartitionFunc) error

// RunOptions describes one cluster run.
type RunOptions struct {
	Main node.MainFunc
	Args []string

	NumNodes            int
	NumParameterServers int

	// MasterNode, if set, names the role of the single node that follows the parameter servers.
	MasterNode string

	InputMode   types.InputMode
	Tensorboard bool
	LocalLogDir bool

	// Queues are created on every node in addition to the control and error queues. Defaults to DefaultQueues.
	Queues []string

	// ReservationTimeout bounds the wait for every node to register. Defaults to DefaultReservationTimeout.
	ReservationTimeout time.Duration

	// CapabilityTimeout bounds the wait for every node to report its capabilities. Zero waits without bound.
	CapabilityTimeout time.Duration

	// FeedTimeout bounds how long a worker may take to consume one fed partition. Defaults to node.DefaultFeedTimeout.
	FeedTimeout time.Duration

	Name               string
	Description        string
	VersionedResources []string

	// DriverParameterServers and LogDir are not supported and fail Run.
	DriverParameterServers bool
	LogDir                 string
}

// Intervals are the polling periods and timeouts of the orchestrator. Zero fields take their default.
type Intervals struct {
	StreamingTick   time.Duration
	StatusPoll      time.Duration
	RequiredSamples int
	DrainPoll       time.Duration
	NodePoll        time.Duration
	ControlTimeout  time.Duration
	SupervisorJoin  time.Duration
	ExitTimeout     time.Duration
}

func (i Intervals) withDefaults() Intervals {
	if i.StreamingTick <= 0 {
		i.StreamingTick = DefaultStreamingTick
	}
	if i.StatusPoll <= 0 {
		i.StatusPoll = DefaultStatusInterval
	}
	if i.RequiredSamples <= 0 {
		i.RequiredSamples = DefaultRequiredSamples
	}
	if i.DrainPoll <= 0 {
		i.DrainPoll = DefaultStatusInterval
	}
	if i.NodePoll <= 0 {
		i.NodePoll = node.DefaultPollInterval
	}
	if i.ControlTimeout <= 0 {
		i.ControlTimeout = 10 * time.Minute
	}
	if i.SupervisorJoin <= 0 {
		i.SupervisorJoin = 30 * time.Second
	}
	if i.ExitTimeout <= 0 {
		i.ExitTimeout = 5 * time.Second
	}
	return i
}

// Orchestrator starts cluster runs on an execution engine. Run ids and experiment ids increase by one
// with every call to Run.
type Orchestrator struct {
	log logger.Logger

	engine     engine.Engine
	provider   dfs.Provider
	sink       experiment.Sink
	tracer     opentracing.Tracer
	metrics    *metrics.DriverPrometheusManager
	registrar  rendezvous.Registrar
	listenHost string
	launch     LaunchFunc
	dialer     ControlDialer
	dashboard  node.Dashboard
	capability func() bool
	intervals  Intervals

	runIDs        atomic.Int32
	experimentIDs atomic.Int32
	current       atomic.Pointer[Cluster]
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("Orchestrator[%s] ", o.engine.ApplicationID())
}

// SetMetricsManager makes the orchestrator record its metrics with m.
func (o *Orchestrator) SetMetricsManager(m *metrics.DriverPrometheusManager) {
	o.metrics = m
}

// Current returns the cluster of the most recent call to Run, or nil.
func (o *Orchestrator) Current() *Cluster {
	return o.current.Load()
}

func (o *Orchestrator) ClusterID() string {
	if c := o.Current(); c != nil {
		return c.ID()
	}
	return ""
}

func (o *Orchestrator) NumRegisteredNodes() int {
	if c := o.Current(); c != nil {
		return len(c.Registry())
	}
	return 0
}

func (o *Orchestrator) StateName() string {
	if c := o.Current(); c != nil {
		return c.State().String()
	}
	return ""
}

// ExitHandler records the current cluster as KILLED unless it has already finished.
func (o *Orchestrator) ExitHandler() {
	if c := o.Current(); c != nil {
		c.ExitHandler()
	}
}

// Run plans the cluster, launches its nodes in the background, and returns once every node has
// registered. The returned Cluster must be shut down with Cluster.Shutdown.
func (o *Orchestrator) Run(ctx context.Context, opts *RunOptions) (*Cluster, error) {
	plan, err := o.validate(opts)
	if err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, o.tracer, "cluster.run")
	defer span.Finish()

	queues := opts.Queues
	if len(queues) == 0 {
		queues = DefaultQueues
	}

	cluster, err := o.prepare(ctx, opts, plan, queues)
	if err != nil {
		return nil, err
	}

	bootstrap := node.Bootstrap(&node.Options{
		Main:         opts.Main,
		Args:         opts.Args,
		Meta:         cluster.rc.Meta,
		Tensorboard:  opts.Tensorboard,
		Dashboard:    o.dashboard,
		QueueNames:   queues,
		LocalLogDir:  opts.LocalLogDir,
		Background:   opts.InputMode == types.InputModeDataParallelFeed,
		ListenHost:   o.listenHost,
		Capability:   o.capability,
		PollInterval: o.intervals.NodePoll,
	})

	rc := cluster.rc
	cluster.setState(StateReserving)
	cluster.supervisor = startLaunchSupervisor(rc, func(ctx context.Context) error {
		return o.launch(ctx, rc, bootstrap)
	}, cluster.handleLaunchFailure)

	if err = cluster.reserve(ctx, opts); err != nil {
		return nil, err
	}

	cluster.setState(StateRunning)
	return cluster, nil
}

func (o *Orchestrator) validate(opts *RunOptions) (*planner.ClusterPlan, error) {
	if opts.Main == nil {
		return nil, errors.Wrap(types.ErrPrecondition, "a main function is required")
	}

	if opts.DriverParameterServers {
		return nil, errors.Wrap(types.ErrUnsupportedOption,
			"running parameter servers on the driver is not supported; they always run on executors")
	}

	if opts.LogDir != "" {
		return nil, errors.Wrapf(types.ErrUnsupportedOption,
			"the log directory is chosen per run and cannot be overridden (got \"%s\")", opts.LogDir)
	}

	if opts.InputMode != types.InputModeTensorFlow && opts.InputMode != types.InputModeDataParallelFeed {
		return nil, errors.Wrapf(types.ErrUnsupportedOption, "input mode %v", opts.InputMode)
	}

	if opts.ReservationTimeout < 0 || opts.CapabilityTimeout < 0 {
		return nil, errors.Wrap(types.ErrPrecondition, "timeouts must not be negative")
	}

	return planner.Plan(opts.NumNodes, opts.NumParameterServers, opts.MasterNode)
}

// prepare creates the run's metadata and experiment record and starts the rendezvous server.
func (o *Orchestrator) prepare(ctx context.Context, opts *RunOptions, plan *planner.ClusterPlan, queues []string) (*Cluster, error) {
	runID := int(o.runIDs.Add(1))
	experimentID := int(o.experimentIDs.Add(1))
	clusterID := uuid.NewString()
	appID := o.engine.ApplicationID()

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	defaultFS := o.engine.DefaultFS()
	if defaultFS == "" {
		defaultFS = o.provider.DefaultFS()
	}

	server := rendezvous.NewServer(plan.TotalNodes())
	server.PollInterval = o.intervals.NodePoll
	addr, err := server.Start(o.listenHost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start rendezvous server")
	}

	if o.registrar != nil {
		if err = server.PublishWith(o.registrar, consul.RendezvousServiceName, clusterID); err != nil {
			o.log.Warn("Failed to publish rendezvous server %v: %v", addr, err)
		}
	}

	meta := &types.RunMetadata{
		ClusterID:     clusterID,
		RunID:         runID,
		ExperimentID:  experimentID,
		ApplicationID: appID,
		StartTime:     time.Now(),
		WorkingDir:    workingDir,
		DefaultFS:     dfs.NormalizeDefaultFS(defaultFS),
		ServerAddress: addr.String(),
		LogDir:        dfs.RunLogDir(o.provider, appID, runID),
		NumNodes:      plan.TotalNodes(),
		Template:      plan.Template(),
	}

	o.log.Info("Starting cluster %s (run %d) with %d node(s): %v", clusterID, runID, meta.NumNodes, plan)
	o.log.Debug("Rendezvous server listening at %v.", addr)

	var versioned []string
	if len(opts.VersionedResources) > 0 {
		versioned, err = o.provider.VersionResources(ctx, opts.VersionedResources, meta.LogDir)
		if err != nil {
			_ = server.Stop()
			return nil, errors.Wrap(err, "failed to version resources")
		}
	}

	rc := newRunContext(meta, plan, opts.InputMode, queues)
	rc.Reporter = experiment.NewReporter(o.sink, experiment.Key{
		Project:       o.provider.ProjectName(),
		ApplicationID: appID,
		RunLabel:      meta.RunLabel(),
	}, experiment.Record{
		Project:            o.provider.ProjectName(),
		Name:               opts.Name,
		Module:             recordModule,
		Function:           funcName(opts.Main),
		ApplicationID:      appID,
		RunID:              runID,
		LogDir:             meta.LogDir,
		VersionedResources: versioned,
		Description:        opts.Description,
	})

	if err = rc.Reporter.Start(ctx); err != nil {
		o.log.Warn("Failed to record the start of experiment %v: %v", rc.Reporter.Key(), err)
	}

	cluster := newCluster(o, rc, server)
	o.current.Store(cluster)
	return cluster, nil
}

// launchNodes runs the bootstrap job: one partition per node index.
func (o *Orchestrator) launchNodes(ctx context.Context, rc *RunContext, bootstrap engine.PartitionFunc) error {
	n := rc.Meta.NumNodes
	_, err := o.engine.RunJob(ctx, engine.Range(n, n), bootstrap)
	return err
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}

	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

func tensorboardBanner(registry []types.NodeRecord) string {
	var lines []string
	for _, record := range registry {
		if record.DashboardPort != 0 {
			lines = append(lines, fmt.Sprintf("TensorBoard running at: http://%s:%d", record.Host, record.DashboardPort))
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return utils.Banner(utils.LightBlueStyle, lines...)
}
