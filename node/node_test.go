package node_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/planner"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/node"
)

const pollInterval = 20 * time.Millisecond

type fakeDashboard struct {
	mu      sync.Mutex
	started []int
	stopped []int
}

func (d *fakeDashboard) Start(logDir string, port int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, port)
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

// harness runs a rendezvous server and a LocalEngine with one executor per node.
type harness struct {
	eng    *engine.LocalEngine
	server *rendezvous.Server
	meta   *types.RunMetadata
}

func newHarness(total int, reserved int) *harness {
	plan, err := planner.Plan(total, reserved, "")
	Expect(err).To(BeNil())

	server := rendezvous.NewServer(total)
	server.PollInterval = pollInterval
	addr, err := server.Start("127.0.0.1")
	Expect(err).To(BeNil())

	return &harness{
		eng:    engine.NewLocalEngine("app-1", "file://", "127.0.0.1", total),
		server: server,
		meta: &types.RunMetadata{
			ClusterID:     fmt.Sprintf("cluster-%d", time.Now().UnixNano()),
			RunID:         1,
			ExperimentID:  1,
			ApplicationID: "app-1",
			WorkingDir:    GinkgoT().TempDir(),
			ServerAddress: addr.String(),
			LogDir:        "/Projects/p/Experiments/app-1/cluster/run.1",
			NumNodes:      total,
			Template:      plan.Template(),
		},
	}
}

func (h *harness) options(main node.MainFunc, background bool) *node.Options {
	return &node.Options{
		Main:         main,
		Meta:         h.meta,
		QueueNames:   []string{channel.QueueInput, channel.QueueOutput},
		Background:   background,
		ListenHost:   "127.0.0.1",
		Capability:   func() bool { return false },
		PollInterval: pollInterval,
	}
}

// launch starts the bootstrap job and waits for every node to register.
func (h *harness) launch(opts *node.Options) ([]types.NodeRecord, <-chan error) {
	launched := make(chan error, 1)
	go func() {
		_, err := h.eng.RunJob(context.Background(), engine.Range(h.meta.NumNodes, h.meta.NumNodes), node.Bootstrap(opts))
		launched <- err
	}()

	registry, err := h.server.AwaitReservations(context.Background(), nil, 10*time.Second)
	Expect(err).To(BeNil())
	return registry, launched
}

func (h *harness) close() {
	h.eng.CancelAllJobs()
	_ = h.server.Stop()
	node.ReleaseExecutors()
}

func stopParameterServer(record types.NodeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := channel.Connect(ctx, record.Address, record.AuthKey)
	Expect(err).To(BeNil())

	control := client.Queue(channel.QueueControl)
	Expect(control.Put(ctx, channel.StopItem())).To(Succeed())
	Expect(control.Join(ctx)).To(Succeed())

	state, err := client.State(ctx)
	Expect(err).To(BeNil())
	Expect(state).To(Equal(channel.StateStopped))
}

func decodeInts(items []channel.Item) []int {
	values := make([]int, 0, len(items))
	for _, item := range items {
		var v int
		Expect(item.Decode(&v)).To(Succeed())
		values = append(values, v)
	}
	return values
}

var _ = Describe("Node", func() {
	var h *harness

	AfterEach(func() {
		if h != nil {
			h.close()
		}
	})

	Context("Bootstrap in the foreground", func() {
		It("should register every node and run parameter servers until they are stopped", func() {
			h = newHarness(3, 1)

			var (
				mu       sync.Mutex
				contexts []*node.Context
			)
			main := func(ctx *node.Context) error {
				mu.Lock()
				contexts = append(contexts, ctx)
				mu.Unlock()

				if ctx.JobName == types.RoleParameterServer {
					<-ctx.Done()
				}
				return nil
			}

			registry, launched := h.launch(h.options(main, false))
			Expect(registry).To(HaveLen(3))

			ids := make(map[types.NodeID]struct{})
			for _, record := range registry {
				ids[record.ID()] = struct{}{}
				Expect(record.AuthKey).ToNot(BeEmpty())
				Expect(record.Address.Host).To(Equal("127.0.0.1"))
			}
			Expect(ids).To(HaveLen(3))

			Consistently(launched, 200*time.Millisecond).ShouldNot(Receive())

			Expect(registry[0].JobName).To(Equal(types.RoleParameterServer))
			stopParameterServer(registry[0])

			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(contexts)
			}, 5*time.Second).Should(Equal(3))

			mu.Lock()
			defer mu.Unlock()
			for _, ctx := range contexts {
				Expect(ctx.ClusterSpec[types.RoleParameterServer]).To(HaveLen(1))
				Expect(ctx.ClusterSpec[types.RoleWorker]).To(HaveLen(2))
				Expect(ctx.LogDir).To(Equal(h.meta.LogDir))
			}
		})

		It("should fail the task when a foreground main fails", func() {
			h = newHarness(2, 0)

			main := func(ctx *node.Context) error {
				if ctx.TaskIndex == 1 {
					return errors.New("boom")
				}
				return nil
			}

			_, launched := h.launch(h.options(main, false))

			var err error
			Eventually(launched, 5*time.Second).Should(Receive(&err))
			Expect(errors.Is(err, node.ErrNodeMainFailed)).To(BeTrue())
		})

		It("should start the dashboard on the chief worker only", func() {
			h = newHarness(3, 1)
			dashboard := &fakeDashboard{}

			opts := h.options(func(ctx *node.Context) error { return nil }, true)
			opts.Tensorboard = true
			opts.Dashboard = dashboard

			registry, _ := h.launch(opts)

			withDashboard := 0
			for _, record := range registry {
				if record.DashboardPort != 0 {
					withDashboard += 1
					Expect(record.JobName).To(Equal(types.RoleWorker))
					Expect(record.TaskIndex).To(Equal(0))
					Expect(record.DashboardPID).To(Equal(4242))
				}
			}
			Expect(withDashboard).To(Equal(1))

			stopParameterServer(registry[0])
		})

		It("should surface a parameter server's background failure", func() {
			h = newHarness(2, 1)

			main := func(ctx *node.Context) error {
				if ctx.JobName == types.RoleParameterServer {
					return errors.New("ps exploded")
				}
				return nil
			}

			_, launched := h.launch(h.options(main, false))

			var err error
			Eventually(launched, 5*time.Second).Should(Receive(&err))
			Expect(errors.Is(err, node.ErrNodeMainFailed)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("ps exploded"))
		})
	})

	Context("Feeding", func() {
		It("should deliver every fed item to the workers and stop them", func() {
			h = newHarness(2, 0)

			var (
				mu       sync.Mutex
				received []int
			)
			stopped := make(chan struct{}, 2)
			main := func(ctx *node.Context) error {
				feed, err := ctx.DataFeed(true, channel.QueueInput, channel.QueueOutput)
				if err != nil {
					return err
				}

				for !feed.ShouldStop() {
					batch, err := feed.NextBatch(ctx, 2)
					if err != nil {
						return err
					}

					mu.Lock()
					received = append(received, decodeInts(batch)...)
					mu.Unlock()
				}

				stopped <- struct{}{}
				return nil
			}

			opts := h.options(main, true)
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, &fakeDashboard{})
			feeder.PollInterval = pollInterval

			results, err := h.eng.RunJob(context.Background(), engine.Parallelize([]any{1, 2, 3, 4, 5, 6}, 2), feeder.Train(channel.QueueInput))
			Expect(err).To(BeNil())
			Expect(results).To(Equal([][]any{{false}, {false}}))

			_, err = h.eng.RunJob(context.Background(), engine.Range(2, 2), feeder.Shutdown())
			Expect(err).To(BeNil())

			Eventually(stopped, 5*time.Second).Should(Receive())
			Eventually(stopped, 5*time.Second).Should(Receive())

			mu.Lock()
			Expect(received).To(ConsistOf(1, 2, 3, 4, 5, 6))
			mu.Unlock()

			for _, record := range registry {
				mgr, ok := node.LocalManager(record.Host, record.ExecutorID)
				Expect(ok).To(BeTrue())
				Expect(mgr.State()).To(Equal(channel.StateStopped))
			}
		})

		It("should fail the feed task when the worker reports an error", func() {
			h = newHarness(1, 0)

			main := func(ctx *node.Context) error {
				return errors.New("worker exploded")
			}

			opts := h.options(main, true)
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, nil)
			feeder.PollInterval = pollInterval

			_, err := h.eng.RunJob(context.Background(), engine.Parallelize([]any{1}, 1), feeder.Train(channel.QueueInput))
			Expect(errors.Is(err, node.ErrWorkerFailed)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("worker exploded"))
		})

		It("should skip partitions and request a stop once a worker terminates", func() {
			h = newHarness(1, 0)

			main := func(ctx *node.Context) error {
				feed, err := ctx.DataFeed(true, channel.QueueInput, channel.QueueOutput)
				if err != nil {
					return err
				}
				feed.DrainTimeout = 50 * time.Millisecond

				if _, err = feed.NextBatch(ctx, 1); err != nil {
					return err
				}
				feed.Terminate(ctx)
				return nil
			}

			opts := h.options(main, true)
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, nil)
			feeder.PollInterval = pollInterval

			results, err := h.eng.RunJob(context.Background(), engine.Parallelize([]any{1, 2, 3}, 1), feeder.Train(channel.QueueInput))
			Expect(err).To(BeNil())
			Expect(results).To(Equal([][]any{{true}}))
			Expect(h.server.Done()).To(BeTrue())

			results, err = h.eng.RunJob(context.Background(), engine.Parallelize([]any{4, 5}, 1), feeder.Train(channel.QueueInput))
			Expect(err).To(BeNil())
			Expect(results).To(Equal([][]any{{true}}))
		})

		It("should stop the dashboard of the node being shut down", func() {
			h = newHarness(1, 0)
			dashboard := &fakeDashboard{}

			opts := h.options(func(ctx *node.Context) error { return nil }, true)
			opts.Tensorboard = true
			opts.Dashboard = dashboard
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, dashboard)
			_, err := h.eng.RunJob(context.Background(), engine.Range(1, 1), feeder.Shutdown())
			Expect(err).To(BeNil())
			Expect(dashboard.Stopped()).To(Equal([]int{4242}))
		})
	})

	Context("Inference", func() {
		It("should return one result per input item", func() {
			h = newHarness(1, 0)

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
					for _, v := range decodeInts(batch) {
						results = append(results, v*2)
					}

					if err = feed.BatchResults(ctx, results); err != nil {
						return err
					}
				}
			}

			opts := h.options(main, true)
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, nil)
			output := engine.MapPartitions(h.eng, engine.Parallelize([]any{1, 2, 3}, 1), feeder.Inference(channel.QueueInput))
			Expect(output.Evaluations()).To(Equal(0))

			items, err := output.CollectItems(context.Background())
			Expect(err).To(BeNil())
			Expect(items).To(Equal([]any{2.0, 4.0, 6.0}))
		})

		It("should return nothing for an empty partition", func() {
			h = newHarness(1, 0)

			opts := h.options(func(ctx *node.Context) error { <-ctx.Done(); return nil }, true)
			registry, launched := h.launch(opts)
			Eventually(launched, 5*time.Second).Should(Receive(BeNil()))

			feeder := node.NewFeeder(h.meta, registry, opts.QueueNames, nil)
			results, err := h.eng.RunJob(context.Background(), engine.FromPartitions([]any{}), feeder.Inference(channel.QueueInput))
			Expect(err).To(BeNil())
			Expect(results).To(Equal([][]any{{}}))
		})
	})

	It("should reject partitions without exactly one node index", func() {
		h = newHarness(1, 0)
		bootstrap := node.Bootstrap(h.options(func(ctx *node.Context) error { return nil }, false))

		_, err := h.eng.RunJob(context.Background(), engine.FromPartitions([]any{0, 1}), bootstrap)
		Expect(errors.Is(err, node.ErrInvalidPartition)).To(BeTrue())
	})
})
