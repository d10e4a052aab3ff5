package orchestrator

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/tracing"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/node"
)

func (c *Cluster) checkFeedable(qname string) (*node.Feeder, error) {
	if c.rc.InputMode != types.InputModeDataParallelFeed {
		return nil, errors.Wrapf(types.ErrWrongInputMode, "cluster was started in %v mode", c.rc.InputMode)
	}

	if !slices.Contains(c.rc.Queues, qname) {
		return nil, errors.Wrapf(types.ErrUnknownQueue, "\"%s\" is not one of %v", qname, c.rc.Queues)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown || c.state == StateTerminated {
		return nil, types.ErrClusterTerminated
	}
	return c.feeder, nil
}

// Feed pushes every item of ds into queue qname of the worker nodes, numEpochs times over. Zero epochs
// means DefaultNumEpochs. Feed returns once every fed item has been consumed.
func (c *Cluster) Feed(ctx context.Context, ds *engine.Dataset, qname string, numEpochs int) error {
	feeder, err := c.checkFeedable(qname)
	if err != nil {
		return err
	}

	if numEpochs < 0 {
		return errors.Wrapf(types.ErrInvalidEpochs, "got %d", numEpochs)
	}
	if numEpochs == 0 {
		numEpochs = DefaultNumEpochs
	}

	span, ctx := tracing.StartSpan(ctx, c.tracer, "cluster.feed")
	defer span.Finish()

	epochs := make([]*engine.Dataset, numEpochs)
	for i := range epochs {
		epochs[i] = ds
	}
	data := engine.Union(epochs...)

	c.log.Info("Feeding %d item(s) (%d epoch(s)) into queue \"%s\".", data.Count(), numEpochs, qname)
	c.metrics.AddFeedItems(c.ID(), qname, data.Count())

	_, err = c.engine.RunJob(ctx, data, feeder.Train(qname))
	return err
}

// FeedStream feeds every micro-batch of stream into queue qname of the worker nodes as it arrives.
func (c *Cluster) FeedStream(stream engine.Stream, qname string) error {
	feeder, err := c.checkFeedable(qname)
	if err != nil {
		return err
	}

	train := feeder.Train(qname)
	stream.ForeachBatch(func(ctx context.Context, batch *engine.Dataset) error {
		c.metrics.AddFeedItems(c.ID(), qname, batch.Count())
		_, err := c.engine.RunJob(ctx, batch, train)
		return err
	})
	return nil
}

// Collect returns the lazily evaluated results of running every item of ds through the worker
// nodes, with one result partition per input partition. Nothing is fed until the results are collected.
func (c *Cluster) Collect(ds *engine.Dataset, qname string) (*engine.ResultSet, error) {
	feeder, err := c.checkFeedable(qname)
	if err != nil {
		return nil, err
	}

	return engine.MapPartitions(c.engine, ds, feeder.Inference(qname)), nil
}
