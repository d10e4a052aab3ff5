// Package rendezvous implements the two-phase protocol through which cluster nodes report their
// capabilities and register themselves with the driver before the computation starts.
package rendezvous

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

const (
	// DefaultPollInterval is how often the registration phase checks for completion and launch failures.
	DefaultPollInterval = time.Second
)

var (
	ErrServerNotStarted = errors.New("rendezvous server has not been started")
)

// Registrar publishes the rendezvous listener in a service registry.
type Registrar interface {
	Register(name string, id string, ip string, port int) error
	Deregister(id string) error
}

// Server is the driver-resident rendezvous coordinator.
//
// It accepts capability reports and registrations from nodes over persistent TCP connections
// carrying JSON messages, and exposes blocking waits for both phases.
type Server struct {
	log logger.Logger

	expected     int
	PollInterval time.Duration

	listener net.Listener
	addr     types.Address

	mu           sync.Mutex
	capabilities []CapabilityReport
	records      []types.NodeRecord
	conns        map[net.Conn]struct{}

	capabilitiesComplete chan struct{}
	capabilitiesOnce     sync.Once
	registryComplete     chan struct{}
	registryOnce         sync.Once

	done     atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	registrar Registrar
	serviceID string
}

// NewServer creates a Server that waits for the given number of nodes.
func NewServer(expected int) *Server {
	s := &Server{
		expected:             expected,
		PollInterval:         DefaultPollInterval,
		conns:                make(map[net.Conn]struct{}),
		capabilitiesComplete: make(chan struct{}),
		registryComplete:     make(chan struct{}),
		stopped:              make(chan struct{}),
	}
	config.InitLogger(&s.log, s)

	return s
}

// Start listens on an ephemeral port of host and begins accepting node connections.
func (s *Server) Start(host string) (types.Address, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return types.Address{}, err
	}

	s.listener = listener
	s.addr = types.Address{Host: host, Port: listener.Addr().(*net.TCPAddr).Port}
	s.log.Info("Rendezvous server listening for %d node(s) at %v.", s.expected, s.addr)

	go s.serve()
	return s.addr, nil
}

// Addr returns the address nodes should connect to.
func (s *Server) Addr() types.Address {
	return s.addr
}

// Expected returns the number of nodes the server waits for.
func (s *Server) Expected() int {
	return s.expected
}

// PublishWith registers the listener with a service registry under the given name and id.
// The registration is removed when the server is stopped.
func (s *Server) PublishWith(registrar Registrar, name string, id string) error {
	if s.listener == nil {
		return ErrServerNotStarted
	}

	if err := registrar.Register(name, id, s.addr.Host, s.addr.Port); err != nil {
		return err
	}

	s.mu.Lock()
	s.registrar = registrar
	s.serviceID = id
	s.mu.Unlock()
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
			}

			s.log.Error("Error encountered while accepting rendezvous connection: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.log.Debug("Accepted rendezvous connection. Local: %s. Remote: %s.", conn.LocalAddr(), conn.RemoteAddr())

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var msg message
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("Failed to decode message from %v: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if err := encoder.Encode(s.handleMessage(&msg)); err != nil {
			s.log.Warn("Failed to reply to %v: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *Server) handleMessage(msg *message) *reply {
	switch msg.Type {
	case MessageCapability:
		if msg.Capability == nil {
			return &reply{Error: "capability message has no report"}
		}
		s.addCapability(*msg.Capability)
		return &reply{OK: true}
	case MessageRegister:
		if msg.Record == nil {
			return &reply{Error: "registration message has no record"}
		}
		s.addRecord(*msg.Record)
		return &reply{OK: true}
	case MessageQuery:
		return &reply{OK: true, Complete: s.registryIsComplete()}
	case MessageQueryInfo:
		return &reply{OK: true, Complete: s.registryIsComplete(), Records: s.Registry()}
	case MessageStop:
		s.log.Info("A node requested that the cluster be stopped.")
		s.done.Store(true)
		return &reply{OK: true}
	default:
		return &reply{Error: fmt.Sprintf("unknown message type \"%s\"", msg.Type)}
	}
}

func (s *Server) addCapability(report CapabilityReport) {
	s.mu.Lock()
	s.capabilities = append(s.capabilities, report)
	n := len(s.capabilities)
	s.mu.Unlock()

	s.log.Debug("Received %v (%d/%d).", report, n, s.expected)
	if n >= s.expected {
		s.capabilitiesOnce.Do(func() { close(s.capabilitiesComplete) })
	}
}

func (s *Server) addRecord(record types.NodeRecord) {
	s.mu.Lock()
	s.records = append(s.records, record)
	n := len(s.records)
	s.mu.Unlock()

	s.log.Info("Registered %v (%d/%d).", record, n, s.expected)
	if n >= s.expected {
		s.registryOnce.Do(func() { close(s.registryComplete) })
	}
}

func (s *Server) registryIsComplete() bool {
	select {
	case <-s.registryComplete:
		return true
	default:
		return false
	}
}

// Registry returns the records registered so far, ordered by node index.
func (s *Server) Registry() []types.NodeRecord {
	s.mu.Lock()
	records := make([]types.NodeRecord, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].NodeIndex < records[j].NodeIndex
	})
	return records
}

// Capabilities returns the capability reports received so far.
func (s *Server) Capabilities() []CapabilityReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := make([]CapabilityReport, len(s.capabilities))
	copy(reports, s.capabilities)
	return reports
}

// AwaitCapabilityCheck blocks until every expected node has reported its capability.
//
// A timeout of zero waits without bound. A positive timeout fails the wait with
// types.ErrRequestTimedOut once it elapses.
func (s *Server) AwaitCapabilityCheck(ctx context.Context, timeout time.Duration) ([]CapabilityReport, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-s.capabilitiesComplete:
		return s.Capabilities(), nil
	case <-timeoutCh:
		return nil, errors.Wrapf(types.ErrRequestTimedOut, "only %d/%d node(s) reported their capabilities within %v",
			len(s.Capabilities()), s.expected, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitReservations blocks until every expected node has registered, the timeout elapses, or
// abort reports an error.
//
// abort is checked every PollInterval; a non-nil result fails the wait with types.ErrLaunchFailed.
func (s *Server) AwaitReservations(ctx context.Context, abort func() error, timeout time.Duration) ([]types.NodeRecord, error) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-s.registryComplete:
			return s.Registry(), nil
		case <-ticker.C:
			if abort != nil {
				if err := abort(); err != nil {
					return nil, errors.Wrap(types.ErrLaunchFailed, err.Error())
				}
			}
			s.log.Debug("Waiting for %d reservation(s).", s.expected-len(s.Registry()))
		case <-deadline.C:
			return nil, errors.Wrapf(types.ErrReservationTimeout, "%d/%d node(s) registered within %v",
				len(s.Registry()), s.expected, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done returns true once a node has requested that the cluster be stopped.
func (s *Server) Done() bool {
	return s.done.Load()
}

// Stop closes the listener and every open node connection.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)

		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		registrar, serviceID := s.registrar, s.serviceID
		s.mu.Unlock()

		if registrar != nil {
			if deregErr := registrar.Deregister(serviceID); deregErr != nil {
				s.log.Warn("Failed to deregister rendezvous service %s: %v", serviceID, deregErr)
			}
		}

		s.log.Debug("Rendezvous server stopped.")
	})

	return err
}
