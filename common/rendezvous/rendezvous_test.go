package rendezvous_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

type fakeRegistrar struct {
	mu           sync.Mutex
	registered   map[string]int
	deregistered []string
}

func (r *fakeRegistrar) Register(name string, id string, ip string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered == nil {
		r.registered = make(map[string]int)
	}
	r.registered[id] = port
	return nil
}

func (r *fakeRegistrar) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, id)
	return nil
}

func registerNode(ctx context.Context, addr types.Address, index int) *rendezvous.Client {
	client, err := rendezvous.NewClient(ctx, addr)
	Expect(err).To(BeNil())

	Expect(client.ReportCapability(rendezvous.CapabilityReport{NodeIndex: index, Host: "127.0.0.1"})).To(Succeed())
	Expect(client.Register(types.NodeRecord{
		NodeIndex:  index,
		Host:       "127.0.0.1",
		ExecutorID: fmt.Sprintf("%d", index),
		JobName:    "worker",
		TaskIndex:  index,
	})).To(Succeed())

	return client
}

var _ = Describe("Rendezvous", func() {
	var (
		server *rendezvous.Server
		addr   types.Address
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		server = rendezvous.NewServer(3)
		server.PollInterval = time.Millisecond * 20
		addr, err = server.Start("127.0.0.1")
		Expect(err).To(BeNil())

		ctx, cancel = context.WithTimeout(context.Background(), time.Second*10)
	})

	AfterEach(func() {
		cancel()
		Expect(server.Stop()).To(Succeed())
	})

	It("should complete both phases once every node has reported and registered", func() {
		for _, index := range []int{2, 0, 1} {
			client := registerNode(ctx, addr, index)
			defer client.Close()
		}

		reports, err := server.AwaitCapabilityCheck(ctx, 0)
		Expect(err).To(BeNil())
		Expect(reports).To(HaveLen(3))

		records, err := server.AwaitReservations(ctx, nil, time.Second*5)
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(3))
		for i, record := range records {
			Expect(record.NodeIndex).To(Equal(i))
		}
	})

	It("should let nodes wait for the full registry", func() {
		first := registerNode(ctx, addr, 0)
		defer first.Close()

		registry := make(chan []types.NodeRecord, 1)
		go func() {
			defer GinkgoRecover()
			records, err := first.AwaitRegistry(ctx, time.Millisecond*20)
			Expect(err).To(BeNil())
			registry <- records
		}()

		Consistently(registry, time.Millisecond*100).ShouldNot(Receive())

		second := registerNode(ctx, addr, 1)
		defer second.Close()
		third := registerNode(ctx, addr, 2)
		defer third.Close()

		var records []types.NodeRecord
		Eventually(registry, time.Second*5).Should(Receive(&records))
		Expect(records).To(HaveLen(3))
	})

	It("should time out when fewer nodes than expected register", func() {
		client := registerNode(ctx, addr, 0)
		defer client.Close()

		records, err := server.AwaitReservations(ctx, nil, time.Millisecond*200)
		Expect(records).To(BeNil())
		Expect(errors.Is(err, types.ErrReservationTimeout)).To(BeTrue())
	})

	It("should abort the registration phase when the launch fails", func() {
		launchErr := errors.New("bootstrap failed on node 2")

		_, err := server.AwaitReservations(ctx, func() error { return launchErr }, time.Second*5)
		Expect(errors.Is(err, types.ErrLaunchFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("bootstrap failed on node 2"))
	})

	It("should bound the capability phase only when asked to", func() {
		_, err := server.AwaitCapabilityCheck(ctx, time.Millisecond*100)
		Expect(errors.Is(err, types.ErrRequestTimedOut)).To(BeTrue())

		shortCtx, shortCancel := context.WithTimeout(ctx, time.Millisecond*100)
		defer shortCancel()
		_, err = server.AwaitCapabilityCheck(shortCtx, 0)
		Expect(err).To(Equal(context.DeadlineExceeded))
	})

	It("should report stop requests", func() {
		client, err := rendezvous.NewClient(ctx, addr)
		Expect(err).To(BeNil())
		defer client.Close()

		Expect(server.Done()).To(BeFalse())
		Expect(client.RequestStop()).To(Succeed())
		Expect(server.Done()).To(BeTrue())
	})

	It("should deregister from the service registry when stopped", func() {
		registrar := &fakeRegistrar{}
		Expect(server.PublishWith(registrar, "cluster-rendezvous", "cluster-1")).To(Succeed())
		Expect(registrar.registered).To(HaveKeyWithValue("cluster-1", addr.Port))

		Expect(server.Stop()).To(Succeed())
		Expect(registrar.deregistered).To(Equal([]string{"cluster-1"}))
	})
})
