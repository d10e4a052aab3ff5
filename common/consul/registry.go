package consul

import (
	"net"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	consul "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/utils"
)

const (
	// NetworkEnv names a CIDR whose address is preferred when the host has more than one interface.
	NetworkEnv = "CLUSTER_RENDEZVOUS_NETWORK"

	// RendezvousServiceName is the Consul service name of a driver's rendezvous listener.
	RendezvousServiceName = "cluster-rendezvous"
)

var ErrNoLocalAddress = errors.New("registry: can not find local ip")

// Client registers rendezvous listeners with a Consul agent.
type Client struct {
	*consul.Client

	log logger.Logger
}

// NewClient returns a new Client with connection to the Consul agent at addr.
func NewClient(addr string) (*Client, error) {
	cfg := consul.DefaultConfig()
	cfg.Address = addr

	c, err := consul.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create consul client for \"%s\"", addr)
	}

	cli := &Client{Client: c}
	config.InitLogger(&cli.log, "Consul ")

	return cli, nil
}

// LocalIP returns the first non-loopback IPv4 address, or the first one inside the network named by NetworkEnv.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	return pickAddress(addrs, utils.GetEnv(NetworkEnv, ""))
}

func pickAddress(addrs []net.Addr, cidr string) (string, error) {
	var ips []net.IP
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP)
		}
	}

	if len(ips) == 0 {
		return "", ErrNoLocalAddress
	}

	if len(ips) > 1 && cidr != "" {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			for _, ip := range ips {
				if network.Contains(ip) {
					return ip.String(), nil
				}
			}
		}
	}

	return ips[0].String(), nil
}

// Register a service with the agent. An empty ip is replaced with LocalIP.
func (c *Client) Register(name string, id string, ip string, port int) error {
	if ip == "" || ip == "0.0.0.0" {
		var err error
		ip, err = LocalIP()
		if err != nil {
			return err
		}
	}

	reg := &consul.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Port:    port,
		Address: ip,
		Tags:    []string{"rendezvous"},
	}
	c.log.Info("Registering service [name: %s, id: %s, address: %s:%d]", name, id, ip, port)
	return c.Agent().ServiceRegister(reg)
}

// Deregister removes the service from the agent.
func (c *Client) Deregister(id string) error {
	c.log.Debug("Deregistering service %s", id)
	return c.Agent().ServiceDeregister(id)
}
