package domain_test

import (
	"time"

	"github.com/Scusemua/go-utils/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/driver/domain"
	"github.com/scusemua/cluster-orchestrator/driver/orchestrator"
)

var _ = Describe("DriverOptions", func() {
	parse := func(args ...string) (*domain.DriverOptions, error) {
		opts := &domain.DriverOptions{}
		_, err := config.ValidateOptionsWithFlags(opts, args...)
		return opts, err
	}

	It("should apply defaults", func() {
		opts, err := parse()
		Expect(err).To(BeNil())

		Expect(opts.NumNodes).To(Equal(domain.DefaultNumNodes))
		Expect(opts.NumExecutors).To(Equal(domain.DefaultNumNodes))
		Expect(opts.ProjectName).To(Equal(domain.DefaultProjectName))
		Expect(opts.NumEpochs).To(Equal(orchestrator.DefaultNumEpochs))
		Expect(opts.QueueList()).To(Equal(orchestrator.DefaultQueues))
		Expect(opts.ParsedInputMode()).To(Equal(types.InputModeTensorFlow))

		run := opts.RunOptions(nil)
		Expect(run.ReservationTimeout).To(Equal(orchestrator.DefaultReservationTimeout))
		Expect(run.CapabilityTimeout).To(BeZero())
	})

	It("should convert the flags into run options", func() {
		opts, err := parse("--num-nodes", "5", "--num-ps", "2", "--master-node", "chief",
			"--input-mode", "feed", "--queues", "train, eval", "--reservation-timeout-sec", "30",
			"--feed-timeout-sec", "7", "--versioned-resources", "a.py,b.py", "--tensorboard")
		Expect(err).To(BeNil())

		run := opts.RunOptions(nil)
		Expect(run.NumNodes).To(Equal(5))
		Expect(run.NumParameterServers).To(Equal(2))
		Expect(run.MasterNode).To(Equal("chief"))
		Expect(run.InputMode).To(Equal(types.InputModeDataParallelFeed))
		Expect(run.Queues).To(Equal([]string{"train", "eval"}))
		Expect(run.ReservationTimeout).To(Equal(30 * time.Second))
		Expect(run.FeedTimeout).To(Equal(7 * time.Second))
		Expect(run.VersionedResources).To(Equal([]string{"a.py", "b.py"}))
		Expect(run.Tensorboard).To(BeTrue())

		Expect(opts.FeedQueue()).To(Equal("train"))
	})

	It("should prefer the input queue for feeding", func() {
		opts, err := parse("--queues", "output,input")
		Expect(err).To(BeNil())
		Expect(opts.FeedQueue()).To(Equal("input"))
	})

	It("should reject invalid values", func() {
		_, err := parse("--input-mode", "bogus")
		Expect(err).To(MatchError(types.ErrPrecondition))

		_, err = parse("--num-ps", "-1")
		Expect(err).To(MatchError(types.ErrInvalidRoleCounts))

		_, err = parse("--num-epochs", "-2")
		Expect(err).To(MatchError(types.ErrInvalidEpochs))
	})

	It("should require a command for the node main", func() {
		opts, err := parse()
		Expect(err).To(BeNil())

		_, err = opts.NodeMain()
		Expect(err).To(MatchError(types.ErrPrecondition))

		opts.Command = "true"
		main, err := opts.NodeMain()
		Expect(err).To(BeNil())
		Expect(main).ToNot(BeNil())
	})
})
