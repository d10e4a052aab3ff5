package experiment_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

type failingSink struct{}

func (failingSink) Put(context.Context, experiment.Key, []byte) error {
	return errors.New("sink unavailable")
}

func (failingSink) Close() error { return nil }

var _ = Describe("Reporter", func() {
	var (
		sink     *experiment.MemorySink
		reporter *experiment.Reporter
		key      experiment.Key
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		sink = experiment.NewMemorySink()
		key = experiment.Key{Project: "demo", ApplicationID: "app-1", RunLabel: "dist1"}
		reporter = experiment.NewReporter(sink, key, experiment.Record{
			Project:       "demo",
			Name:          "mnist",
			Module:        "ClusterOrchestrator",
			Function:      "run",
			ApplicationID: "app-1",
			RunID:         1,
		})
	})

	It("should write a RUNNING record when started", func() {
		Expect(reporter.Start(ctx)).To(Succeed())

		record, ok := sink.Get(key)
		Expect(ok).To(BeTrue())
		Expect(record.Status).To(Equal(types.OutcomeRunning))
		Expect(record.StartTime.IsZero()).To(BeFalse())
		Expect(record.FinishedTime).To(BeNil())

		Expect(reporter.Start(ctx)).To(MatchError(experiment.ErrReporterStarted))
	})

	It("should record the first terminal outcome only", func() {
		Expect(reporter.Start(ctx)).To(Succeed())

		written, err := reporter.Finalize(ctx, types.OutcomeFinished, nil)
		Expect(err).To(BeNil())
		Expect(written).To(BeTrue())

		written, err = reporter.Finalize(ctx, types.OutcomeFailed, errors.New("late failure"))
		Expect(err).To(BeNil())
		Expect(written).To(BeFalse())

		record, _ := sink.Get(key)
		Expect(record.Status).To(Equal(types.OutcomeFinished))
		Expect(record.Error).To(BeEmpty())
		Expect(record.FinishedTime).ToNot(BeNil())
		Expect(sink.Writes(key)).To(Equal(2))
	})

	It("should store the cause of a failure", func() {
		Expect(reporter.Start(ctx)).To(Succeed())

		written, err := reporter.Finalize(ctx, types.OutcomeFailed, errors.New("bootstrap failed on node 2"))
		Expect(err).To(BeNil())
		Expect(written).To(BeTrue())

		record, _ := sink.Get(key)
		Expect(record.Status).To(Equal(types.OutcomeFailed))
		Expect(record.Error).To(Equal("bootstrap failed on node 2"))
	})

	It("should refuse non-terminal outcomes", func() {
		_, err := reporter.Finalize(ctx, types.OutcomeRunning, nil)
		Expect(errors.Is(err, experiment.ErrNotTerminal)).To(BeTrue())
	})

	It("should not write anything once closed", func() {
		Expect(reporter.Start(ctx)).To(Succeed())
		reporter.Close()

		written, err := reporter.Finalize(ctx, types.OutcomeKilled, nil)
		Expect(err).To(BeNil())
		Expect(written).To(BeFalse())
		Expect(sink.Writes(key)).To(Equal(1))
		Expect(reporter.Outcome()).To(Equal(types.OutcomeRunning))
	})

	It("should let exactly one of several concurrent finalizers win", func() {
		Expect(reporter.Start(ctx)).To(Succeed())

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []types.Outcome
		)
		for _, outcome := range []types.Outcome{types.OutcomeFinished, types.OutcomeFailed, types.OutcomeKilled} {
			wg.Add(1)
			go func(outcome types.Outcome) {
				defer wg.Done()
				written, _ := reporter.Finalize(ctx, outcome, nil)
				if written {
					mu.Lock()
					winners = append(winners, outcome)
					mu.Unlock()
				}
			}(outcome)
		}
		wg.Wait()

		Expect(winners).To(HaveLen(1))
		record, _ := sink.Get(key)
		Expect(record.Status).To(Equal(winners[0]))
		Expect(sink.Writes(key)).To(Equal(2))
	})

	It("should keep the terminal outcome when the sink fails", func() {
		failing := experiment.NewReporter(failingSink{}, key, experiment.Record{})
		Expect(failing.Start(ctx)).ToNot(Succeed())

		written, err := failing.Finalize(ctx, types.OutcomeFailed, nil)
		Expect(written).To(BeTrue())
		Expect(err).ToNot(BeNil())
		Expect(failing.Outcome()).To(Equal(types.OutcomeFailed))
	})
})

var _ = Describe("Sinks", func() {
	key := experiment.Key{Project: "demo", ApplicationID: "app-1", RunLabel: "dist3"}

	It("should write documents under the local sink directory", func() {
		dir := GinkgoT().TempDir()
		sink, err := experiment.NewSink(context.Background(), &experiment.SinkOptions{SinkKind: "local", SinkDirectory: dir})
		Expect(err).To(BeNil())
		defer sink.Close()

		Expect(sink.Put(context.Background(), key, []byte(`{"status":"RUNNING"}`))).To(Succeed())
		Expect(sink.Put(context.Background(), key, []byte(`{"status":"FINISHED"}`))).To(Succeed())

		data, err := os.ReadFile(filepath.Join(dir, "demo", "app-1", "dist3.json"))
		Expect(err).To(BeNil())

		var record experiment.Record
		Expect(json.Unmarshal(data, &record)).To(Succeed())
		Expect(record.Status).To(Equal(types.OutcomeFinished))
	})

	It("should default to the in-memory sink", func() {
		sink, err := experiment.NewSink(context.Background(), &experiment.SinkOptions{})
		Expect(err).To(BeNil())
		Expect(sink).To(BeAssignableToTypeOf(&experiment.MemorySink{}))
	})

	It("should reject unknown sinks", func() {
		_, err := experiment.NewSink(context.Background(), &experiment.SinkOptions{SinkKind: "elastic"})
		Expect(err).ToNot(BeNil())
	})

	It("should refuse to connect an S3 sink without a bucket", func() {
		_, err := experiment.NewSink(context.Background(), &experiment.SinkOptions{SinkKind: "s3"})
		Expect(errors.Is(err, experiment.ErrNoBucket)).To(BeTrue())
	})

	It("should derive stable remote keys", func() {
		Expect(experiment.RedisKey(key)).To(Equal("experiment:demo:app-1:dist3"))
		Expect(experiment.ObjectKey(key)).To(Equal("experiments/demo/app-1/dist3.json"))
	})
})
