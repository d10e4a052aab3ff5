package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/jackpal/gateway"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/common/utils"
)

const DefaultPollInterval = time.Second

var (
	ErrUnknownNode      = errors.New("node index is not part of the cluster template")
	ErrNodeMainFailed   = errors.New("node main function failed")
	ErrInvalidPartition = errors.New("bootstrap partition must hold exactly one node index")
)

// Options configures the bootstrap of every node of a run.
type Options struct {
	Main MainFunc
	Args []string
	Meta *types.RunMetadata

	// Tensorboard starts a Dashboard on the chief node.
	Tensorboard bool
	Dashboard   Dashboard

	// QueueNames are created on every node's manager in addition to the control and error queues.
	QueueNames []string

	// LocalLogDir places the node's log directory under the working directory instead of the run's log dir.
	LocalLogDir bool

	// Background runs the main function of worker nodes in a goroutine so that the bootstrap task
	// returns and frees its executor for feed tasks. Parameter-server nodes always run in the background.
	Background bool

	// ListenHost is the interface the node's manager binds to. Empty or "0.0.0.0" binds every
	// interface and advertises the address of the default gateway's interface.
	ListenHost string

	// Capability answers the capability check. Defaults to utils.HasAccelerator.
	Capability func() bool

	PollInterval time.Duration
}

func (o *Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

// Bootstrapper starts one cluster node per partition of the bootstrap job. Each partition holds
// the index of the node to start.
type Bootstrapper struct {
	log  logger.Logger
	opts *Options
}

func NewBootstrapper(opts *Options) *Bootstrapper {
	if opts.Capability == nil {
		opts.Capability = utils.HasAccelerator
	}
	if opts.Dashboard == nil {
		opts.Dashboard = &ProcessDashboard{}
	}

	b := &Bootstrapper{opts: opts}
	config.InitLogger(&b.log, b)
	return b
}

// Bootstrap returns the partition function that starts cluster nodes.
func Bootstrap(opts *Options) engine.PartitionFunc {
	return NewBootstrapper(opts).Run
}

// Run starts the node whose index is the single item of the partition. It returns once the node's
// main function has completed, or immediately after registration for background nodes.
// Parameter-server nodes return once they have consumed the stop sentinel of their control queue.
func (b *Bootstrapper) Run(tc *engine.TaskContext, items []any) ([]any, error) {
	if len(items) != 1 {
		return nil, errors.Wrapf(ErrInvalidPartition, "got %d item(s)", len(items))
	}

	nodeIndex, ok := items[0].(int)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidPartition, "item %v is a %T", items[0], items[0])
	}

	meta := b.opts.Meta
	jobName, taskIndex, ok := meta.RoleOf(nodeIndex)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %d, template %v", nodeIndex, meta.Template)
	}

	b.log.Info("Starting node %s:%d (index %d) on %v.", jobName, taskIndex, nodeIndex, tc)

	serverAddr, err := types.ParseAddress(meta.ServerAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid rendezvous address \"%s\"", meta.ServerAddress)
	}

	client, err := rendezvous.NewClient(tc, serverAddr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	advertiseHost := b.advertiseHost(tc)
	err = client.ReportCapability(rendezvous.CapabilityReport{NodeIndex: nodeIndex, Host: advertiseHost, Accelerator: b.opts.Capability()})
	if err != nil {
		return nil, errors.Wrap(err, "capability check failed")
	}

	mgr := channel.NewManager(uuid.NewString(), b.opts.QueueNames)
	state := &executorState{clusterID: meta.ClusterID, manager: mgr}
	if err = claimExecutor(tc.Host, tc.ExecutorID, state); err != nil {
		_ = mgr.Close()
		return nil, err
	}

	nc, err := b.register(tc, client, state, nodeIndex, jobName, taskIndex, advertiseHost)
	if err != nil {
		releaseExecutor(tc.Host, tc.ExecutorID, state)
		return nil, err
	}

	if jobName == types.RoleParameterServer {
		return nil, b.runParameterServer(tc, nc, state)
	}

	if b.opts.Background {
		ctx, cancel := context.WithCancel(context.Background())
		state.cancel = cancel
		nc.Context = ctx
		go b.runBackground(nc)
		return nil, nil
	}

	nc.Context = tc
	if err = b.opts.Main(nc); err != nil {
		b.log.Error("Main function of %v failed: %v", nc, err)
		return nil, errors.Wrapf(ErrNodeMainFailed, "%v: %v", nc, err)
	}

	b.log.Info("Main function of %v completed.", nc)
	return nil, nil
}

// register starts the node's manager, registers the node, and waits for the full registry.
func (b *Bootstrapper) register(tc *engine.TaskContext, client *rendezvous.Client, state *executorState,
	nodeIndex int, jobName string, taskIndex int, advertiseHost string) (*Context, error) {

	meta := b.opts.Meta
	bindHost := b.opts.ListenHost
	if bindHost == "" {
		bindHost = "0.0.0.0"
	}

	addr, err := state.manager.Start(bindHost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start control channel manager")
	}
	addr.Host = advertiseHost

	port, err := utils.FreePort(bindHost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve a port for the node")
	}

	logDir := meta.LogDir
	if b.opts.LocalLogDir {
		logDir = filepath.Join(meta.WorkingDir, "logs", fmt.Sprintf("%s_%d", jobName, taskIndex))
	}

	record := types.NodeRecord{
		NodeIndex:  nodeIndex,
		Host:       tc.Host,
		ExecutorID: tc.ExecutorID,
		JobName:    jobName,
		TaskIndex:  taskIndex,
		Port:       port,
		Address:    addr,
		AuthKey:    state.manager.AuthKey(),
	}

	if b.opts.Tensorboard && isChief(jobName, taskIndex, hasMaster(meta.Template)) {
		record.DashboardPort, record.DashboardPID = b.startDashboard(bindHost, logDir)
	}

	if err = client.Register(record); err != nil {
		return nil, errors.Wrap(err, "registration failed")
	}
	b.log.Debug("Registered %v. Waiting for the rest of the cluster.", record)

	registry, err := client.AwaitRegistry(tc, b.opts.pollInterval())
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve the cluster registry")
	}

	return &Context{
		Meta:        meta,
		NodeIndex:   nodeIndex,
		JobName:     jobName,
		TaskIndex:   taskIndex,
		ClusterSpec: buildClusterSpec(registry),
		Args:        b.opts.Args,
		DefaultFS:   meta.DefaultFS,
		WorkingDir:  meta.WorkingDir,
		LogDir:      logDir,
		Host:        tc.Host,
		ExecutorID:  tc.ExecutorID,
		Port:        port,
		Manager:     state.manager,
	}, nil
}

func (b *Bootstrapper) startDashboard(host string, logDir string) (int, int) {
	port, err := utils.FreePort(host)
	if err != nil {
		b.log.Warn("Could not reserve a dashboard port: %v", err)
		return 0, 0
	}

	pid, err := b.opts.Dashboard.Start(logDir, port)
	if err != nil {
		b.log.Warn("Could not start dashboard: %v", err)
		return 0, 0
	}

	b.log.Info("Dashboard (pid %d) serving %s on port %d.", pid, logDir, port)
	return port, pid
}

// runParameterServer runs the main function in the background and serves the control queue until the
// stop sentinel arrives. If the task is cancelled first, the control queue is still served so that
// the driver's stop request can complete.
func (b *Bootstrapper) runParameterServer(tc *engine.TaskContext, nc *Context, state *executorState) error {
	ctx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	nc.Context = ctx

	go b.runBackground(nc)

	done := make(chan error, 1)
	go func() {
		err := b.serveControl(ctx, state.manager)
		cancel()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-tc.Done():
		b.log.Warn("Task of %v was cancelled. Control queue remains served until the stop sentinel arrives.", nc)
		return tc.Err()
	}
}

// serveControl consumes the control queue until the stop sentinel, failing if the error queue
// reports a failure of the background main function.
func (b *Bootstrapper) serveControl(ctx context.Context, mgr *channel.Manager) error {
	control, _ := mgr.Queue(channel.QueueControl)
	errq, _ := mgr.Queue(channel.QueueError)

	ticker := time.NewTicker(b.opts.pollInterval())
	defer ticker.Stop()

	for {
		if item, ok := errq.TryGet(); ok {
			_ = errq.TaskDone()
			return errors.Wrapf(ErrNodeMainFailed, "exception in ps: %s", errorMessage(item))
		}

		if item, ok := control.TryGet(); ok {
			b.log.Debug("Got control message: %v", item)
			if item.IsStop() {
				b.log.Info("Terminating parameter server.")
				mgr.SetState(channel.StateStopped)
				_ = control.TaskDone()
				return nil
			}
			_ = control.TaskDone()
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runBackground runs the main function and reports its failure through the error queue.
func (b *Bootstrapper) runBackground(nc *Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		if err == nil {
			b.log.Info("Background main function of %v completed.", nc)
			return
		}

		b.log.Error("Background main function of %v failed: %v", nc, err)
		if errq, ok := nc.Manager.Queue(channel.QueueError); ok {
			_ = errq.Put(channel.MustItem(err.Error()))
		}
	}()

	err = b.opts.Main(nc)
}

func (b *Bootstrapper) advertiseHost(tc *engine.TaskContext) string {
	if host := b.opts.ListenHost; host != "" && host != "0.0.0.0" {
		return host
	}

	ip, err := gateway.DiscoverInterface()
	if err != nil {
		b.log.Warn("Could not discover the default interface (%v). Advertising %s.", err, tc.Host)
		return tc.Host
	}

	return ip.String()
}

func errorMessage(item channel.Item) string {
	var msg string
	if err := item.Decode(&msg); err != nil {
		return item.String()
	}
	return msg
}

func hasMaster(template map[string][]int) bool {
	for job := range template {
		if job != types.RoleWorker && job != types.RoleParameterServer {
			return true
		}
	}
	return false
}

func isChief(jobName string, taskIndex int, withMaster bool) bool {
	switch jobName {
	case types.RoleParameterServer:
		return false
	case types.RoleWorker:
		return !withMaster && taskIndex == 0
	default:
		return true
	}
}
