package channel

import (
	"time"

	"github.com/go-zeromq/zmq4"
)

const (
	dialerTimeout       = 5 * time.Second
	dialerRetryInterval = 250 * time.Millisecond
)

// socketOptions returns the options of a control-channel socket. Dealer sockets pass a non-empty
// identity so that the manager's router can address replies to them.
func socketOptions(identity string) []zmq4.Option {
	opts := []zmq4.Option{
		zmq4.WithDialerRetry(dialerRetryInterval),
		zmq4.WithDialerTimeout(dialerTimeout),
	}

	if identity != "" {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(identity)))
	}

	return opts
}
