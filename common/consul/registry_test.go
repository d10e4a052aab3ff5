package consul

import (
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func ipNet(cidr string) net.Addr {
	ip, network, err := net.ParseCIDR(cidr)
	Expect(err).To(BeNil())
	network.IP = ip
	return network
}

var _ = Describe("Registry", func() {
	It("should skip loopback and IPv6 addresses", func() {
		addr, err := pickAddress([]net.Addr{ipNet("127.0.0.1/8"), ipNet("fe80::1/64"), ipNet("10.0.0.5/24")}, "")
		Expect(err).To(BeNil())
		Expect(addr).To(Equal("10.0.0.5"))
	})

	It("should prefer the configured network", func() {
		addrs := []net.Addr{ipNet("10.0.0.5/24"), ipNet("192.168.1.7/24")}

		addr, err := pickAddress(addrs, "192.168.1.0/24")
		Expect(err).To(BeNil())
		Expect(addr).To(Equal("192.168.1.7"))

		addr, err = pickAddress(addrs, "bogus")
		Expect(err).To(BeNil())
		Expect(addr).To(Equal("10.0.0.5"))
	})

	It("should fail when there is no usable address", func() {
		_, err := pickAddress([]net.Addr{ipNet("127.0.0.1/8")}, "")
		Expect(errors.Is(err, ErrNoLocalAddress)).To(BeTrue())
	})

	It("should create a client without contacting the agent", func() {
		cli, err := NewClient("127.0.0.1:8500")
		Expect(err).To(BeNil())
		Expect(cli.Client).ToNot(BeNil())
	})
})
