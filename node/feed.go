package node

import (
	"context"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

const DefaultFeedTimeout = 600 * time.Second

var (
	ErrNoNodeOnExecutor = errors.New("no cluster node is registered on this executor")
	ErrWorkerFailed     = errors.New("exception in worker")
	ErrFeedTimeout      = errors.New("timeout while feeding partition")
)

// Feeder builds the partition functions that drive running nodes. Every function locates the node
// registered on the executor it runs on and talks to that node's manager over its control channel.
type Feeder struct {
	log logger.Logger

	meta      *types.RunMetadata
	registry  []types.NodeRecord
	queues    []string
	dashboard Dashboard

	FeedTimeout  time.Duration
	PollInterval time.Duration
}

func NewFeeder(meta *types.RunMetadata, registry []types.NodeRecord, queues []string, dashboard Dashboard) *Feeder {
	if dashboard == nil {
		dashboard = &ProcessDashboard{}
	}

	f := &Feeder{
		meta:         meta,
		registry:     registry,
		queues:       queues,
		dashboard:    dashboard,
		FeedTimeout:  DefaultFeedTimeout,
		PollInterval: DefaultPollInterval,
	}
	config.InitLogger(&f.log, f)
	return f
}

func (f *Feeder) recordFor(tc *engine.TaskContext) (types.NodeRecord, error) {
	for _, record := range f.registry {
		if record.Host == tc.Host && record.ExecutorID == tc.ExecutorID {
			return record, nil
		}
	}

	return types.NodeRecord{}, errors.Wrapf(ErrNoNodeOnExecutor, "host=%s, executor=%s", tc.Host, tc.ExecutorID)
}

func (f *Feeder) connect(tc *engine.TaskContext) (*channel.Client, types.NodeRecord, error) {
	record, err := f.recordFor(tc)
	if err != nil {
		return nil, record, err
	}

	client, err := channel.Connect(tc, record.Address, record.AuthKey)
	if err != nil {
		return nil, record, errors.Wrapf(err, "failed to connect to the manager of %v", record)
	}

	return client, record, nil
}

// Train returns a partition function that pushes every item of its partition into the qname queue of
// the local node and waits until the node has consumed them. The partition's result is a single bool
// that is true if the node had asked to terminate.
func (f *Feeder) Train(qname string) engine.PartitionFunc {
	return func(tc *engine.TaskContext, items []any) ([]any, error) {
		client, record, err := f.connect(tc)
		if err != nil {
			return nil, err
		}

		state, err := client.State(tc)
		if err != nil {
			return nil, err
		}

		if state == channel.StateTerminating {
			f.log.Debug("Node %s:%d is terminating. Skipping %d item(s).", record.JobName, record.TaskIndex, len(items))
		} else {
			queue := client.Queue(qname)
			for _, v := range items {
				item, err := channel.NewItem(v)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to encode feed item %v", v)
				}

				if err = queue.Put(tc, item); err != nil {
					return nil, err
				}
			}

			f.log.Debug("Fed %d item(s) to %s:%d. Waiting for them to be consumed.", len(items), record.JobName, record.TaskIndex)
			if err = f.joinWatchingErrors(tc, client, queue); err != nil {
				return nil, err
			}
		}

		state, err = client.State(tc)
		if err != nil {
			return nil, err
		}

		terminating := state == channel.StateTerminating
		if terminating {
			f.requestStop(tc)
		}

		return []any{terminating}, nil
	}
}

// joinWatchingErrors waits for queue to be joined, failing if the node reports an error first.
func (f *Feeder) joinWatchingErrors(tc *engine.TaskContext, client *channel.Client, queue *channel.RemoteQueue) error {
	joinCtx, cancel := context.WithTimeout(tc, f.FeedTimeout)
	defer cancel()

	joined := make(chan error, 1)
	go func() { joined <- queue.Join(joinCtx) }()

	errq := client.Queue(channel.QueueError)
	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-joined:
			if err != nil && errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(ErrFeedTimeout, "queue \"%s\"", queue.Name())
			}
			return err
		case <-ticker.C:
			n, err := errq.Len(tc)
			if err != nil {
				return err
			}

			if n == 0 {
				continue
			}

			item, err := errq.Get(tc)
			if err != nil {
				return err
			}
			_ = errq.TaskDone(tc)
			return errors.Wrap(ErrWorkerFailed, errorMessage(item))
		}
	}
}

func (f *Feeder) requestStop(tc *engine.TaskContext) {
	addr, err := types.ParseAddress(f.meta.ServerAddress)
	if err != nil {
		f.log.Warn("Cannot request stop: %v", err)
		return
	}

	client, err := rendezvous.NewClient(tc, addr)
	if err != nil {
		f.log.Warn("Cannot request stop: %v", err)
		return
	}
	defer func() { _ = client.Close() }()

	if err = client.RequestStop(); err != nil {
		f.log.Warn("Stop request was not accepted: %v", err)
	}
}

// Inference returns a partition function that pushes its partition into the qname queue of the local
// node, followed by an end-of-partition marker, and returns exactly one result per item read from
// the node's output queue.
func (f *Feeder) Inference(qname string) engine.PartitionFunc {
	return func(tc *engine.TaskContext, items []any) ([]any, error) {
		client, _, err := f.connect(tc)
		if err != nil {
			return nil, err
		}

		queueIn := client.Queue(qname)
		for _, v := range items {
			item, err := channel.NewItem(v)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to encode inference item %v", v)
			}

			if err = queueIn.Put(tc, item); err != nil {
				return nil, err
			}
		}

		if err = queueIn.Put(tc, channel.EndPartitionItem()); err != nil {
			return nil, err
		}

		if len(items) == 0 {
			return []any{}, nil
		}

		if err = queueIn.Join(tc); err != nil {
			return nil, err
		}

		queueOut := client.Queue(channel.QueueOutput)
		results := make([]any, 0, len(items))
		for len(results) < len(items) {
			item, err := queueOut.Get(tc)
			if err != nil {
				return nil, err
			}

			var result any
			if err = item.Decode(&result); err != nil {
				return nil, errors.Wrapf(err, "failed to decode inference result %v", item)
			}

			results = append(results, result)
			if err = queueOut.TaskDone(tc); err != nil {
				return nil, err
			}
		}

		return results, nil
	}
}

// Shutdown returns a partition function that stops the dashboard of the local node, pushes the stop
// sentinel into each of its input queues, and marks it stopped. The output and error queues are left
// alone: nothing on the node reads them.
func (f *Feeder) Shutdown() engine.PartitionFunc {
	return func(tc *engine.TaskContext, _ []any) ([]any, error) {
		client, record, err := f.connect(tc)
		if err != nil {
			return nil, err
		}

		if record.DashboardPID != 0 {
			if err = f.dashboard.Stop(record.DashboardPID); err != nil {
				f.log.Warn("Failed to stop dashboard (pid %d) of %s:%d: %v", record.DashboardPID, record.JobName, record.TaskIndex, err)
			}
		}

		f.log.Debug("Stopping all queues of %s:%d.", record.JobName, record.TaskIndex)
		for _, name := range f.queues {
			if name == channel.QueueError || name == channel.QueueOutput {
				continue
			}

			if err = client.Queue(name).Put(tc, channel.StopItem()); err != nil {
				if errors.Is(err, types.ErrUnknownQueue) {
					continue
				}
				return nil, err
			}
		}

		if err = client.SetState(tc, channel.StateStopped); err != nil {
			return nil, err
		}

		return []any{true}, nil
	}
}
