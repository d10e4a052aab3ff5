package orchestrator_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/dfs"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/metrics"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/driver/orchestrator"
	"github.com/scusemua/cluster-orchestrator/node"
)

// stopRecorder wraps the control channel dialer and remembers which nodes it stopped.
type stopRecorder struct {
	orchestrator.ChannelDialer

	mu      sync.Mutex
	stopped []string
	errs    []error
}

func (r *stopRecorder) StopNode(ctx context.Context, record types.NodeRecord) error {
	err := r.ChannelDialer.StopNode(ctx, record)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, record.JobName)
	r.errs = append(r.errs, err)
	return err
}

func (r *stopRecorder) Stopped() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...), append([]error(nil), r.errs...)
}

type fakeDashboard struct {
	mu      sync.Mutex
	stopped []int
}

func (d *fakeDashboard) Start(string, int) (int, error) {
	return 4242, nil
}

func (d *fakeDashboard) Stop(pid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, pid)
	return nil
}

func (d *fakeDashboard) Stopped() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.stopped...)
}

type collected struct {
	mu    sync.Mutex
	items []string
}

func (c *collected) add(items ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, items...)
}

func (c *collected) Items() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.items...)
}

var _ = Describe("Cluster on a local engine", func() {
	var (
		eng    *engine.LocalEngine
		sink   *experiment.MemorySink
		dialer *stopRecorder
	)

	newBuilder := func(numExecutors int) *orchestrator.Builder {
		eng = engine.NewLocalEngine("app-local", "file:///", "127.0.0.1", numExecutors)
		sink = experiment.NewMemorySink()
		dialer = &stopRecorder{}

		return orchestrator.NewBuilder(eng).
			WithProvider(dfs.NewLocalProvider(GinkgoT().TempDir(), "proj")).
			WithSink(sink).
			WithListenHost("127.0.0.1").
			WithControlDialer(dialer).
			WithCapability(func() bool { return false }).
			WithIntervals(orchestrator.Intervals{
				StreamingTick:  20 * time.Millisecond,
				StatusPoll:     20 * time.Millisecond,
				DrainPoll:      20 * time.Millisecond,
				NodePoll:       20 * time.Millisecond,
				ControlTimeout: 5 * time.Second,
				SupervisorJoin: 5 * time.Second,
			})
	}

	newOrchestrator := func(numExecutors int) *orchestrator.Orchestrator {
		return newBuilder(numExecutors).Build()
	}

	AfterEach(func() {
		eng.CancelAllJobs()
		eng.Stop()
		node.ReleaseExecutors()
	})

	It("should run a cluster that reads its own data to completion", func() {
		orch := newOrchestrator(4)

		var ran collected
		main := func(ctx *node.Context) error {
			ran.add(ctx.JobName)
			return nil
		}

		cluster, err := orch.Run(context.Background(), &orchestrator.RunOptions{
			Main:                main,
			NumNodes:            4,
			NumParameterServers: 1,
			InputMode:           types.InputModeTensorFlow,
			ReservationTimeout:  10 * time.Second,
		})
		Expect(err).To(BeNil())
		Expect(cluster.Meta().Template).To(Equal(map[string][]int{"ps": {0}, "worker": {1, 2, 3}}))

		registry := cluster.Registry()
		Expect(registry).To(HaveLen(4))
		ids := make(map[types.NodeID]struct{})
		for _, record := range registry {
			ids[record.ID()] = struct{}{}
		}
		Expect(ids).To(HaveLen(4))
		for i, record := range registry {
			Expect(record.NodeIndex).To(Equal(i))
		}

		Expect(cluster.Shutdown(context.Background(), nil)).To(Succeed())
		Expect(cluster.State()).To(Equal(orchestrator.StateTerminated))
		Eventually(ran.Items).Should(ConsistOf("ps", "worker", "worker", "worker"))

		stopped, errs := dialer.Stopped()
		Expect(stopped).To(Equal([]string{"ps"}))
		Expect(errs).To(Equal([]error{nil}))

		Expect(cluster.Record().Status).To(Equal(types.OutcomeFinished))
		Expect(eng.StatusTracker().ActiveJobIDs()).To(BeEmpty())
	})

	It("should record FAILED and still stop the parameter server when a node fails", func() {
		orch := newOrchestrator(4)

		main := func(ctx *node.Context) error {
			if ctx.NodeIndex == 2 {
				time.Sleep(100 * time.Millisecond)
				return errors.New("node 2 ran out of memory")
			}
			return nil
		}

		cluster, err := orch.Run(context.Background(), &orchestrator.RunOptions{
			Main:                main,
			NumNodes:            4,
			NumParameterServers: 1,
			InputMode:           types.InputModeTensorFlow,
			ReservationTimeout:  10 * time.Second,
		})
		Expect(err).To(BeNil())

		Eventually(cluster.Err, 5*time.Second).ShouldNot(BeNil())
		Eventually(func() types.Outcome { return cluster.Record().Status }).Should(Equal(types.OutcomeFailed))

		err = cluster.Shutdown(context.Background(), nil)
		Expect(errors.Is(err, types.ErrLaunchFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("node 2 ran out of memory"))

		stopped, errs := dialer.Stopped()
		Expect(stopped).To(Equal([]string{"ps"}))
		Expect(errs).To(Equal([]error{nil}))

		record := cluster.Record()
		Expect(record.Status).To(Equal(types.OutcomeFailed))
		Expect(record.Error).To(ContainSubstring("node 2 ran out of memory"))
		Expect(cluster.State()).To(Equal(orchestrator.StateTerminated))
	})

	It("should feed every epoch to the workers and stop them on shutdown", func() {
		orch := newOrchestrator(3)

		var received collected
		main := func(ctx *node.Context) error {
			if ctx.JobName == types.RoleParameterServer {
				return nil
			}

			feed, err := ctx.DataFeed(true, channel.QueueInput, channel.QueueOutput)
			if err != nil {
				return err
			}

			for !feed.ShouldStop() {
				batch, err := feed.NextBatch(ctx, 2)
				if err != nil {
					return err
				}

				for _, item := range batch {
					var s string
					if err = item.Decode(&s); err != nil {
						return err
					}
					received.add(s)
				}
			}
			return nil
		}

		cluster, err := orch.Run(context.Background(), &orchestrator.RunOptions{
			Main:                main,
			NumNodes:            3,
			NumParameterServers: 1,
			InputMode:           types.InputModeDataParallelFeed,
			ReservationTimeout:  10 * time.Second,
		})
		Expect(err).To(BeNil())

		err = cluster.Feed(context.Background(), engine.Parallelize([]any{"a", "b", "c"}, 1), channel.QueueInput, 2)
		Expect(err).To(BeNil())

		// A partial batch is only released by the stop signal sent during shutdown.
		Expect(cluster.Shutdown(context.Background(), nil)).To(Succeed())
		Eventually(received.Items, 5*time.Second).Should(ConsistOf("a", "b", "c", "a", "b", "c"))
		Expect(cluster.Record().Status).To(Equal(types.OutcomeFinished))

		for _, record := range cluster.Registry() {
			mgr, ok := node.LocalManager(record.Host, record.ExecutorID)
			Expect(ok).To(BeTrue())
			Expect(mgr.State()).To(Equal(channel.StateStopped))
		}
	})

	It("should collect one result per fed item", func() {
		orch := newOrchestrator(1)

		main := func(ctx *node.Context) error {
			feed, err := ctx.DataFeed(false, channel.QueueInput, channel.QueueOutput)
			if err != nil {
				return err
			}

			for {
				batch, err := feed.NextBatch(ctx, 10)
				if err != nil || feed.ShouldStop() {
					return err
				}

				results := make([]any, 0, len(batch))
				for _, item := range batch {
					var v int
					if err = item.Decode(&v); err != nil {
						return err
					}
					results = append(results, v*v)
				}

				if err = feed.BatchResults(ctx, results); err != nil {
					return err
				}
			}
		}

		cluster, err := orch.Run(context.Background(), &orchestrator.RunOptions{
			Main:               main,
			NumNodes:           1,
			InputMode:          types.InputModeDataParallelFeed,
			ReservationTimeout: 10 * time.Second,
		})
		Expect(err).To(BeNil())

		results, err := cluster.Collect(engine.Parallelize([]any{1, 2, 3}, 1), channel.QueueInput)
		Expect(err).To(BeNil())

		items, err := results.CollectItems(context.Background())
		Expect(err).To(BeNil())
		Expect(items).To(Equal([]any{1.0, 4.0, 9.0}))

		Expect(cluster.Shutdown(context.Background(), nil)).To(Succeed())
		stopped, _ := dialer.Stopped()
		Expect(stopped).To(BeEmpty())
	})

	It("should report the chief's dashboard and export run metrics", func() {
		dashboard := &fakeDashboard{}
		manager := metrics.NewDriverPrometheusManager(0, nil, nil)
		Expect(manager.Start()).To(Succeed())
		defer func() { _ = manager.Stop() }()

		orch := newBuilder(2).WithDashboard(dashboard).WithMetricsManager(manager).Build()

		cluster, err := orch.Run(context.Background(), &orchestrator.RunOptions{
			Main:               func(*node.Context) error { return nil },
			NumNodes:           2,
			InputMode:          types.InputModeTensorFlow,
			Tensorboard:        true,
			ReservationTimeout: 10 * time.Second,
		})
		Expect(err).To(BeNil())

		url, ok := cluster.TensorboardURL()
		Expect(ok).To(BeTrue())
		Expect(url).To(HavePrefix("http://127.0.0.1:"))
		Expect(testutil.ToFloat64(manager.RegisteredNodesGaugeVec.WithLabelValues(cluster.ID()))).To(Equal(2.0))

		Expect(cluster.Shutdown(context.Background(), nil)).To(Succeed())
		Expect(dashboard.Stopped()).To(Equal([]int{4242}))
		Expect(testutil.ToFloat64(manager.RunOutcomesCounterVec.WithLabelValues(string(types.OutcomeFinished)))).To(Equal(1.0))
		Expect(testutil.ToFloat64(manager.ClusterStateGaugeVec.WithLabelValues(cluster.ID()))).To(Equal(float64(orchestrator.StateTerminated)))
	})
})
