package node

import (
	"context"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

// DefaultDrainTimeout is how long Terminate waits for another item before deciding the queue is drained.
const DefaultDrainTimeout = 5 * time.Second

// DataFeed is used by a node's main function to read the items fed by the driver and to return results.
type DataFeed struct {
	log logger.Logger

	mgr       *channel.Manager
	queueIn   *channel.JoinableQueue
	queueOut  *channel.JoinableQueue
	trainMode bool

	doneFeeding bool

	DrainTimeout time.Duration
}

// NewDataFeed returns a DataFeed over the named queues of mgr. In train mode end-of-partition markers
// are skipped; otherwise they end the current batch.
func NewDataFeed(mgr *channel.Manager, trainMode bool, qnameIn string, qnameOut string) (*DataFeed, error) {
	queueIn, ok := mgr.Queue(qnameIn)
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownQueue, "\"%s\"", qnameIn)
	}

	queueOut, ok := mgr.Queue(qnameOut)
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownQueue, "\"%s\"", qnameOut)
	}

	feed := &DataFeed{
		mgr:          mgr,
		queueIn:      queueIn,
		queueOut:     queueOut,
		trainMode:    trainMode,
		DrainTimeout: DefaultDrainTimeout,
	}
	config.InitLogger(&feed.log, feed)
	return feed, nil
}

// NextBatch returns up to batchSize items. Fewer are returned once the stop sentinel is read, and,
// outside train mode, when an end-of-partition marker follows at least one item.
func (f *DataFeed) NextBatch(ctx context.Context, batchSize int) ([]channel.Item, error) {
	batch := make([]channel.Item, 0, batchSize)
	for len(batch) < batchSize {
		item, err := f.queueIn.Get(ctx)
		if err != nil {
			return batch, err
		}

		if err = f.queueIn.TaskDone(); err != nil {
			return batch, err
		}

		switch {
		case item.IsStop():
			f.log.Debug("NextBatch got the stop sentinel.")
			f.doneFeeding = true
			return batch, nil
		case item.IsEndPartition():
			if !f.trainMode && len(batch) > 0 {
				return batch, nil
			}
		default:
			batch = append(batch, item)
		}
	}

	return batch, nil
}

// ShouldStop returns true once the stop sentinel has been read.
func (f *DataFeed) ShouldStop() bool {
	return f.doneFeeding
}

// BatchResults pushes results into the output queue and waits until they have been consumed.
func (f *DataFeed) BatchResults(ctx context.Context, results []any) error {
	for _, result := range results {
		item, err := channel.NewItem(result)
		if err != nil {
			return err
		}

		if err = f.queueOut.Put(item); err != nil {
			return err
		}
	}

	return f.queueOut.Join(ctx)
}

// Terminate marks the node as terminating and drops the items remaining in the input queue,
// returning the number dropped. Feed tasks that see the terminating state skip their partitions.
func (f *DataFeed) Terminate(ctx context.Context) int {
	f.log.Info("Terminate invoked.")
	f.mgr.SetState(channel.StateTerminating)

	count := 0
	for {
		getCtx, cancel := context.WithTimeout(ctx, f.DrainTimeout)
		_, err := f.queueIn.Get(getCtx)
		cancel()
		if err != nil {
			f.log.Info("Dropped %d item(s) from the input queue.", count)
			return count
		}

		_ = f.queueIn.TaskDone()
		count += 1
	}
}
