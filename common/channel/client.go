package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

const cancelTimeout = 5 * time.Second

// connections caches one Client per (address, key) pair for the lifetime of the process.
var connections = cmap.New[*Client]()

func connectionKey(addr types.Address, authKey string) string {
	return fmt.Sprintf("%s/%s", addr.Endpoint(), authKey)
}

// Connect returns a Client connected to the manager at addr.
//
// Connect is idempotent: connecting twice to the same address with the same key returns the same
// Client. A Client that has been closed is replaced by a fresh connection.
func Connect(ctx context.Context, addr types.Address, authKey string) (*Client, error) {
	key := connectionKey(addr, authKey)
	if client, ok := connections.Get(key); ok && !client.closed.Load() {
		return client, nil
	}

	client, err := dial(addr, authKey)
	if err != nil {
		return nil, err
	}

	if err = client.Ping(ctx); err != nil {
		_ = client.shutdown()
		return nil, err
	}

	// Another goroutine may have connected concurrently. Keep whichever client got there first.
	stored := connections.Upsert(key, client, func(exist bool, existing *Client, created *Client) *Client {
		if exist && !existing.closed.Load() {
			return existing
		}
		return created
	})

	if stored != client {
		_ = client.shutdown()
	}

	return stored, nil
}

// Client issues requests to a remote Manager over a zmq DEALER socket.
// Requests may be issued concurrently; responses are matched to requests by id.
type Client struct {
	log logger.Logger

	addr    types.Address
	authKey string

	ctx    context.Context
	cancel context.CancelFunc

	socket  zmq4.Socket
	sendMu  sync.Mutex
	pending cmap.ConcurrentMap[string, chan *response]

	closed atomic.Bool
}

func dial(addr types.Address, authKey string) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := socketOptions(uuid.NewString())

	c := &Client{
		addr:    addr,
		authKey: authKey,
		ctx:     ctx,
		cancel:  cancel,
		socket:  zmq4.NewDealer(ctx, opts...),
		pending: cmap.New[chan *response](),
	}
	config.InitLogger(&c.log, c)

	if err := c.socket.Dial(addr.Endpoint()); err != nil {
		cancel()
		return nil, err
	}

	go c.receive()
	return c, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("Client[%s] ", c.addr)
}

// Addr returns the address of the remote manager.
func (c *Client) Addr() types.Address {
	return c.addr
}

func (c *Client) receive() {
	for {
		msg, err := c.socket.Recv()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			c.log.Warn("Error while receiving from manager at %v: %v", c.addr, err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if len(msg.Frames) == 0 {
			continue
		}

		var resp response
		if err = json.Unmarshal(msg.Frames[len(msg.Frames)-1], &resp); err != nil {
			c.log.Error("Failed to decode response from manager at %v: %v", c.addr, err)
			continue
		}

		if ch, ok := c.pending.Pop(resp.ID); ok {
			ch <- &resp
		} else {
			c.log.Debug("Discarding response to abandoned request %s.", resp.ID)
		}
	}
}

func (c *Client) call(ctx context.Context, req *request) (*response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	req.ID = uuid.NewString()
	req.AuthKey = c.authKey
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMillis = time.Until(deadline).Milliseconds()
		if req.TimeoutMillis <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *response, 1)
	c.pending.Set(req.ID, ch)

	c.sendMu.Lock()
	err = c.socket.Send(zmq4.NewMsg(payload))
	c.sendMu.Unlock()
	if err != nil {
		c.pending.Remove(req.ID)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, resp.err()
	case <-ctx.Done():
		c.pending.Remove(req.ID)
		if req.Op == opGet || req.Op == opJoin {
			go c.abandon(req.ID)
		}
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.pending.Remove(req.ID)
		return nil, ErrClientClosed
	}
}

// abandon asks the manager to release the blocking request with the given id. An item already taken
// by that request is lost.
func (c *Client) abandon(id string) {
	ctx, cancel := context.WithTimeout(c.ctx, cancelTimeout)
	defer cancel()

	if _, err := c.call(ctx, &request{Op: opCancel, Key: id}); err != nil && c.ctx.Err() == nil {
		c.log.Warn("Failed to abandon request %s on manager at %v: %v", id, c.addr, err)
	}
}

// Ping checks that the manager is reachable and accepts the client's key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, &request{Op: opPing})
	return err
}

// Get returns a value from the manager's key/value state.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := c.call(ctx, &request{Op: opGetValue, Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Set stores a value in the manager's key/value state.
func (c *Client) Set(ctx context.Context, key string, value string) error {
	_, err := c.call(ctx, &request{Op: opSetValue, Key: key, Value: value})
	return err
}

// State returns the state published by the remote node.
func (c *Client) State(ctx context.Context) (State, error) {
	value, _, err := c.Get(ctx, StateKey)
	return State(value), err
}

// SetState publishes a new state on behalf of the remote node.
func (c *Client) SetState(ctx context.Context, state State) error {
	return c.Set(ctx, StateKey, string(state))
}

// Queue returns a handle to one of the manager's named queues. The name is not checked until the
// first operation on the handle.
func (c *Client) Queue(name string) *RemoteQueue {
	return &RemoteQueue{client: c, name: name}
}

// Close closes the connection and removes it from the connection cache.
func (c *Client) Close() error {
	connections.RemoveCb(connectionKey(c.addr, c.authKey), func(key string, v *Client, exists bool) bool {
		return exists && v == c
	})
	return c.shutdown()
}

func (c *Client) shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	return c.socket.Close()
}

// RemoteQueue is a handle to a named queue hosted by a remote Manager.
type RemoteQueue struct {
	client *Client
	name   string
}

func (q *RemoteQueue) Name() string {
	return q.name
}

// Put appends an item to the remote queue.
func (q *RemoteQueue) Put(ctx context.Context, item Item) error {
	_, err := q.client.call(ctx, &request{Op: opPut, Queue: q.name, Item: &item})
	return err
}

// Get removes and returns the next item of the remote queue, blocking until one is available.
func (q *RemoteQueue) Get(ctx context.Context) (Item, error) {
	resp, err := q.client.call(ctx, &request{Op: opGet, Queue: q.name})
	if err != nil {
		return Item{}, err
	}

	if resp.Item == nil {
		return Item{}, fmt.Errorf("manager returned no item for queue \"%s\"", q.name)
	}

	return *resp.Item, nil
}

// TaskDone marks one previously retrieved item of the remote queue as processed.
func (q *RemoteQueue) TaskDone(ctx context.Context) error {
	_, err := q.client.call(ctx, &request{Op: opTaskDone, Queue: q.name})
	return err
}

// Join blocks until every item put into the remote queue has been marked done.
func (q *RemoteQueue) Join(ctx context.Context) error {
	_, err := q.client.call(ctx, &request{Op: opJoin, Queue: q.name})
	return err
}

// Len returns the number of items waiting in the remote queue.
func (q *RemoteQueue) Len(ctx context.Context) (int, error) {
	resp, err := q.client.call(ctx, &request{Op: opLen, Queue: q.name})
	if err != nil {
		return 0, err
	}
	return resp.Length, nil
}
