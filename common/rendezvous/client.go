package rendezvous

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

var (
	ErrRequestRejected = errors.New("rendezvous server rejected the request")
)

// Client is the node side of the rendezvous protocol. Requests are serialized over one connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
}

// NewClient connects to the rendezvous server at addr.
func NewClient(ctx context.Context, addr types.Address) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to rendezvous server at %v", addr)
	}

	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

func (c *Client) request(msg *message) (*reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.encoder.Encode(msg); err != nil {
		return nil, err
	}

	var resp reply
	if err := c.decoder.Decode(&resp); err != nil {
		return nil, err
	}

	if !resp.OK {
		return nil, errors.Wrap(ErrRequestRejected, resp.Error)
	}

	return &resp, nil
}

// ReportCapability submits the node's answer to the capability check.
func (c *Client) ReportCapability(report CapabilityReport) error {
	_, err := c.request(&message{Type: MessageCapability, Capability: &report})
	return err
}

// Register submits the node's record.
func (c *Client) Register(record types.NodeRecord) error {
	_, err := c.request(&message{Type: MessageRegister, Record: &record})
	return err
}

// AwaitRegistry polls the server until every expected node has registered, then returns the registry.
func (c *Client) AwaitRegistry(ctx context.Context, pollInterval time.Duration) ([]types.NodeRecord, error) {
	for {
		resp, err := c.request(&message{Type: MessageQuery})
		if err != nil {
			return nil, err
		}

		if resp.Complete {
			break
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := c.request(&message{Type: MessageQueryInfo})
	if err != nil {
		return nil, err
	}

	return resp.Records, nil
}

// RequestStop asks the driver to shut the cluster down.
func (c *Client) RequestStop() error {
	_, err := c.request(&message{Type: MessageStop})
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
