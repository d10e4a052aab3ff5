package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

// Manager hosts a node's named queues and its key/value state behind a zmq ROUTER socket.
// Remote clients must present the manager's authentication key with every request.
type Manager struct {
	log logger.Logger

	authKey string
	queues  cmap.ConcurrentMap[string, *JoinableQueue]
	kv      cmap.ConcurrentMap[string, string]

	// inflight holds the cancel functions of blocking requests that have not completed, by request id.
	inflight cmap.ConcurrentMap[string, context.CancelFunc]

	ctx    context.Context
	cancel context.CancelFunc

	socket zmq4.Socket
	sendMu sync.Mutex
	addr   types.Address

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewManager creates a Manager with one queue per name, plus the control and error queues.
// The manager's state is initialized to StateRunning.
func NewManager(authKey string, queueNames []string) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		authKey:  authKey,
		queues:   cmap.New[*JoinableQueue](),
		kv:       cmap.New[string](),
		inflight: cmap.New[context.CancelFunc](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	config.InitLogger(&m.log, m)

	for _, name := range append([]string{QueueControl, QueueError}, queueNames...) {
		m.queues.SetIfAbsent(name, NewJoinableQueue(name))
	}
	m.kv.Set(StateKey, string(StateRunning))

	return m
}

func (m *Manager) String() string {
	return fmt.Sprintf("Manager[%s] ", m.addr)
}

// Start listens on an ephemeral port of the given host and begins serving requests.
func (m *Manager) Start(host string) (types.Address, error) {
	if !m.started.CompareAndSwap(false, true) {
		return m.addr, nil
	}

	m.socket = zmq4.NewRouter(m.ctx, socketOptions("")...)
	if err := m.socket.Listen(fmt.Sprintf("tcp://%s:0", host)); err != nil {
		m.started.Store(false)
		return types.Address{}, err
	}

	m.addr = types.Address{Host: host, Port: m.socket.Addr().(*net.TCPAddr).Port}
	m.log.Debug("Control channel manager listening at %v with queues %v.", m.addr, m.queues.Keys())

	go m.serve()
	return m.addr, nil
}

// Addr returns the address the manager is listening on.
func (m *Manager) Addr() types.Address {
	return m.addr
}

// AuthKey returns the key that clients must present.
func (m *Manager) AuthKey() string {
	return m.authKey
}

// Queue returns the named queue for in-process use.
func (m *Manager) Queue(name string) (*JoinableQueue, bool) {
	return m.queues.Get(name)
}

// QueueNames returns the names of every queue hosted by the manager.
func (m *Manager) QueueNames() []string {
	return m.queues.Keys()
}

// Get returns a value from the manager's key/value state.
func (m *Manager) Get(key string) (string, bool) {
	return m.kv.Get(key)
}

// Set stores a value in the manager's key/value state.
func (m *Manager) Set(key string, value string) {
	m.kv.Set(key, value)
}

// State returns the node state published by the manager.
func (m *Manager) State() State {
	state, _ := m.kv.Get(StateKey)
	return State(state)
}

// SetState publishes a new node state.
func (m *Manager) SetState(state State) {
	m.kv.Set(StateKey, string(state))
}

// PendingRequests returns the number of blocking remote requests that have not completed.
func (m *Manager) PendingRequests() int {
	return m.inflight.Count()
}

// Done is closed once the manager has been closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close stops serving requests and releases every blocked queue operation.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()

		for item := range m.queues.IterBuffered() {
			item.Val.Close()
		}

		if m.socket != nil {
			err = m.socket.Close()
		}

		close(m.done)
	})

	return err
}

func (m *Manager) serve() {
	for {
		msg, err := m.socket.Recv()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}

			m.log.Warn("Error while receiving control-channel message: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		if len(msg.Frames) < 2 {
			m.log.Warn("Discarding control-channel message with %d frame(s).", len(msg.Frames))
			continue
		}

		var req request
		if err = json.Unmarshal(msg.Frames[len(msg.Frames)-1], &req); err != nil {
			m.log.Error("Failed to decode control-channel request: %v", err)
			continue
		}

		// Blocking requests are registered before the next message is read, so that a cancel
		// sent after them on the same connection always finds them.
		ctx, release := m.requestContext(&req)
		go m.handle(ctx, release, msg.Frames[0], &req)
	}
}

// requestContext returns the context bounding req on the manager. Gets and joins can be abandoned
// by their client with a cancel request until release is called.
func (m *Manager) requestContext(req *request) (context.Context, func()) {
	if req.Op != opGet && req.Op != opJoin {
		return m.ctx, func() {}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.inflight.Set(req.ID, cancel)
	return ctx, func() {
		m.inflight.Remove(req.ID)
		cancel()
	}
}

func (m *Manager) handle(ctx context.Context, release func(), identity []byte, req *request) {
	resp := m.process(ctx, req)
	release()
	resp.ID = req.ID

	encoded, err := json.Marshal(resp)
	if err != nil {
		m.log.Error("Failed to encode response to %v: %v", req, err)
		return
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if err = m.socket.Send(zmq4.NewMsgFrom(identity, encoded)); err != nil && m.ctx.Err() == nil {
		m.log.Error("Failed to send response to %v: %v", req, err)
	}
}

func (m *Manager) process(ctx context.Context, req *request) *response {
	if req.AuthKey != m.authKey {
		m.log.Warn("Rejecting %v: invalid authentication key.", req)
		return &response{Code: codeUnauthorized, Error: ErrUnauthorized.Error()}
	}

	switch req.Op {
	case opPing:
		return &response{}
	case opGetValue:
		value, found := m.kv.Get(req.Key)
		return &response{Value: value, Found: found}
	case opSetValue:
		m.kv.Set(req.Key, req.Value)
		return &response{}
	case opCancel:
		if cancel, ok := m.inflight.Pop(req.Key); ok {
			m.log.Debug("Abandoning request %s at the client's request.", req.Key)
			cancel()
		}
		return &response{}
	case opPut, opGet, opTaskDone, opJoin, opLen:
		return m.processQueueOp(ctx, req)
	default:
		return &response{Code: codeUnknownOp, Error: string(req.Op)}
	}
}

func (m *Manager) processQueueOp(ctx context.Context, req *request) *response {
	q, ok := m.queues.Get(req.Queue)
	if !ok {
		return &response{Code: codeUnknownQueue, Error: fmt.Sprintf("queue \"%s\" does not exist", req.Queue)}
	}

	if req.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	var err error
	resp := &response{}
	switch req.Op {
	case opPut:
		if req.Item == nil {
			return &response{Code: codeFailed, Error: "put request has no item"}
		}
		err = q.Put(*req.Item)
	case opGet:
		var item Item
		if item, err = q.Get(ctx); err == nil {
			resp.Item = &item
		}
	case opTaskDone:
		err = q.TaskDone()
	case opJoin:
		err = q.Join(ctx)
	case opLen:
		resp.Length = q.Len()
	}

	switch {
	case err == nil:
		return resp
	case errors.Is(err, ErrQueueClosed), m.ctx.Err() != nil:
		return &response{Code: codeClosed, Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &response{Code: codeTimeout, Error: err.Error()}
	case errors.Is(err, context.Canceled):
		return &response{Code: codeCancelled, Error: err.Error()}
	default:
		return &response{Code: codeFailed, Error: err.Error()}
	}
}
