package orchestrator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/mock_engine"
	"github.com/scusemua/cluster-orchestrator/driver/orchestrator"
)

type fakeStrategy struct {
	name  string
	err   error
	calls *[]string
}

func (s *fakeStrategy) Name() string {
	return s.name
}

func (s *fakeStrategy) Wait(_ context.Context) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

func matching(tracker *mock_engine.MockStatusTracker, activeTasks int) {
	tracker.EXPECT().ActiveJobIDs().Return([]int{1})
	tracker.EXPECT().ActiveStageIDs().Return([]int{7})
	tracker.EXPECT().StageInfo(7).Return(engine.StageInfo{StageID: 7, NumTasks: 4, NumActiveTasks: activeTasks}, true)
}

var _ = Describe("Completion strategies", func() {
	var (
		mockCtrl *gomock.Controller
		tracker  *mock_engine.MockStatusTracker
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracker = mock_engine.NewMockStatusTracker(mockCtrl)
	})

	newDebounced := func(numPS int) (*orchestrator.DebouncedTaskCount, *int) {
		samples := 0
		d := orchestrator.NewDebouncedTaskCount(tracker, numPS)
		d.Interval = time.Millisecond
		d.OnSample = func() { samples++ }
		return d, &samples
	}

	Context("DebouncedTaskCount", func() {
		It("should complete immediately when no jobs are active", func() {
			d, samples := newDebounced(1)
			tracker.EXPECT().ActiveJobIDs().Return([]int{})

			Expect(d.Wait(context.Background())).To(Succeed())
			Expect(*samples).To(Equal(0))
		})

		It("should complete after three consecutive samples with only the servers active", func() {
			d, samples := newDebounced(1)
			tracker.EXPECT().ActiveJobIDs().Return([]int{1}).Times(3)
			tracker.EXPECT().ActiveStageIDs().Return([]int{7}).Times(3)
			tracker.EXPECT().StageInfo(7).Return(engine.StageInfo{StageID: 7, NumActiveTasks: 1}, true).Times(3)

			Expect(d.Wait(context.Background())).To(Succeed())
			Expect(*samples).To(Equal(3))
		})

		It("should complete when the jobs end after only two matching samples", func() {
			d, samples := newDebounced(1)
			gomock.InOrder(
				tracker.EXPECT().ActiveJobIDs().Return([]int{1}).Times(2),
				tracker.EXPECT().ActiveJobIDs().Return(nil),
			)
			tracker.EXPECT().ActiveStageIDs().Return([]int{7}).Times(2)
			tracker.EXPECT().StageInfo(7).Return(engine.StageInfo{StageID: 7, NumActiveTasks: 1}, true).Times(2)

			Expect(d.Wait(context.Background())).To(Succeed())
			Expect(*samples).To(Equal(2))
		})

		It("should not complete after two matching samples while jobs remain active", func() {
			d, samples := newDebounced(1)

			gomock.InOrder(
				tracker.EXPECT().ActiveJobIDs().Return([]int{1}).Times(2),
				tracker.EXPECT().ActiveJobIDs().Return([]int{1}).MinTimes(1),
			)
			gomock.InOrder(
				tracker.EXPECT().ActiveStageIDs().Return([]int{7}).Times(2),
				tracker.EXPECT().ActiveStageIDs().Return([]int{7}).MinTimes(1),
			)
			gomock.InOrder(
				tracker.EXPECT().StageInfo(7).Return(engine.StageInfo{StageID: 7, NumActiveTasks: 1}, true).Times(2),
				tracker.EXPECT().StageInfo(7).Return(engine.StageInfo{StageID: 7, NumActiveTasks: 3}, true).MinTimes(1),
			)

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			Expect(d.Wait(ctx)).To(MatchError(context.DeadlineExceeded))
			Expect(*samples).To(Equal(2))
		})

		It("should require the matching samples to be consecutive", func() {
			d, samples := newDebounced(2)

			matching(tracker, 2)
			matching(tracker, 2)
			matching(tracker, 4)
			matching(tracker, 2)
			matching(tracker, 2)
			matching(tracker, 2)

			Expect(d.Wait(context.Background())).To(Succeed())
			Expect(*samples).To(Equal(5))
		})

		It("should ignore stages it knows nothing about", func() {
			d, samples := newDebounced(1)

			gomock.InOrder(
				tracker.EXPECT().ActiveJobIDs().Return([]int{1}),
				tracker.EXPECT().ActiveJobIDs().Return([]int{}),
			)
			tracker.EXPECT().ActiveStageIDs().Return([]int{9})
			tracker.EXPECT().StageInfo(9).Return(engine.StageInfo{}, false)

			Expect(d.Wait(context.Background())).To(Succeed())
			Expect(*samples).To(Equal(0))
		})
	})

	Context("StreamingCompletion", func() {
		var streaming *mock_engine.MockStreamingContext

		BeforeEach(func() {
			streaming = mock_engine.NewMockStreamingContext(mockCtrl)
		})

		It("should complete once the streaming context terminates", func() {
			gomock.InOrder(
				streaming.EXPECT().AwaitTerminationOrTimeout(time.Millisecond).Return(false, nil).Times(2),
				streaming.EXPECT().AwaitTerminationOrTimeout(time.Millisecond).Return(true, nil),
			)

			s := orchestrator.NewStreamingCompletion(streaming, func() bool { return false })
			s.Tick = time.Millisecond
			Expect(s.Wait(context.Background())).To(Succeed())
		})

		It("should stop the streaming context gracefully once a stop is requested", func() {
			polls := 0
			streaming.EXPECT().AwaitTerminationOrTimeout(time.Second).DoAndReturn(func(time.Duration) (bool, error) {
				polls++
				return false, nil
			}).Times(2)
			streaming.EXPECT().Stop(false, true).Times(1)

			s := orchestrator.NewStreamingCompletion(streaming, func() bool { return polls >= 2 })
			Expect(s.Name()).To(Equal("streaming"))
			Expect(s.Wait(context.Background())).To(Succeed())
		})

		It("should return the error of a failed streaming computation", func() {
			failure := errors.New("batch failed")
			streaming.EXPECT().AwaitTerminationOrTimeout(gomock.Any()).Return(false, failure)

			s := orchestrator.NewStreamingCompletion(streaming, nil)
			Expect(s.Wait(context.Background())).To(MatchError(failure))
		})
	})

	Context("WaitForCompletion", func() {
		It("should run every strategy in order", func() {
			var calls []string
			err := orchestrator.WaitForCompletion(context.Background(),
				&fakeStrategy{name: "first", calls: &calls},
				&fakeStrategy{name: "second", calls: &calls})

			Expect(err).To(BeNil())
			Expect(calls).To(Equal([]string{"first", "second"}))
		})

		It("should stop at the first failing strategy", func() {
			var calls []string
			failure := errors.New("shutdown job failed")
			err := orchestrator.WaitForCompletion(context.Background(),
				&fakeStrategy{name: "first", err: failure, calls: &calls},
				&fakeStrategy{name: "second", calls: &calls})

			Expect(errors.Is(err, failure)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("first"))
			Expect(calls).To(Equal([]string{"first"}))
		})

		It("should run the scheduled shutdown job", func() {
			ran := false
			s := &orchestrator.ScheduledShutdown{Run: func(context.Context) error {
				ran = true
				return nil
			}}

			Expect(orchestrator.WaitForCompletion(context.Background(), s)).To(Succeed())
			Expect(ran).To(BeTrue())
		})
	})
})
