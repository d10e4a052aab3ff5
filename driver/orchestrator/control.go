package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

// ControlDialer delivers the stop sentinel to a node that runs until it is told to stop.
type ControlDialer interface {
	// StopNode returns once the node has consumed the stop sentinel.
	StopNode(ctx context.Context, record types.NodeRecord) error
}

// ChannelDialer stops nodes through their control channel.
type ChannelDialer struct{}

func (ChannelDialer) StopNode(ctx context.Context, record types.NodeRecord) error {
	client, err := channel.Connect(ctx, record.Address, record.AuthKey)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s:%d", record.JobName, record.TaskIndex)
	}

	control := client.Queue(channel.QueueControl)
	if err = control.Put(ctx, channel.StopItem()); err != nil {
		return errors.Wrapf(err, "failed to stop %s:%d", record.JobName, record.TaskIndex)
	}

	return control.Join(ctx)
}
