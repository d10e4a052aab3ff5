package orchestrator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("RunStatus", func() {
	It("should keep only the first error", func() {
		status := newRunStatus()
		Expect(status.Err()).To(BeNil())
		Expect(status.Fail(nil)).To(BeFalse())
		Consistently(status.Failed(), "10ms").ShouldNot(BeClosed())

		first := errors.New("first")
		Expect(status.Fail(first)).To(BeTrue())
		Expect(status.Fail(errors.New("second"))).To(BeFalse())
		Expect(status.Err()).To(Equal(first))
		Expect(status.Failed()).To(BeClosed())
	})
})

var _ = Describe("State", func() {
	It("should follow the lifecycle of a successful run", func() {
		path := []State{StateCreated, StateReserving, StateRunning, StateDraining, StateStoppingServers, StateFinalizing, StateTerminated}
		for i := 1; i < len(path); i++ {
			Expect(path[i-1].canTransition(path[i])).To(BeTrue(), "%v -> %v", path[i-1], path[i])
		}
	})

	It("should force a failed run through the servers' shutdown", func() {
		Expect(StateRunning.canTransition(StateFailedRunning)).To(BeTrue())
		Expect(StateDraining.canTransition(StateFailedRunning)).To(BeTrue())
		Expect(StateFailedRunning.canTransition(StateDraining)).To(BeFalse())
		Expect(StateFailedRunning.canTransition(StateStoppingServers)).To(BeTrue())
	})

	It("should not leave TERMINATED", func() {
		for s := StateCreated; s <= StateTerminated; s++ {
			Expect(StateTerminated.canTransition(s)).To(BeFalse())
		}
		Expect(StateFinalizing.canTransition(StateFailedRunning)).To(BeFalse())
	})

	It("should name every state", func() {
		Expect(StateFailedRunning.String()).To(Equal("FAILED_RUNNING"))
		Expect(StateStoppingServers.String()).To(Equal("STOPPING_SERVERS"))
		Expect(State(42).String()).To(Equal("State(42)"))
	})
})
