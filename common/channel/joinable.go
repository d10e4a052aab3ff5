package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/scusemua/cluster-orchestrator/common/queue"
)

var (
	ErrTaskDoneCalledTooManyTimes = errors.New("TaskDone called more times than there were items in the queue")
	ErrQueueClosed                = errors.New("queue has been closed")
)

// JoinableQueue is an unbounded FIFO of Items that tracks how many retrieved items have not yet
// been marked as done. Join blocks until every item that was ever put has been marked done.
type JoinableQueue struct {
	name string

	mu         sync.Mutex
	items      *queue.Fifo[Item]
	unfinished int
	closed     bool

	// changed is closed and replaced whenever the queue changes.
	changed chan struct{}
}

// NewJoinableQueue creates an empty JoinableQueue.
func NewJoinableQueue(name string) *JoinableQueue {
	return &JoinableQueue{
		name:    name,
		items:   queue.NewFifo[Item](16),
		changed: make(chan struct{}),
	}
}

func (q *JoinableQueue) Name() string {
	return q.name
}

// notifyLocked wakes every waiter. The caller must hold q.mu.
func (q *JoinableQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends an item to the queue.
func (q *JoinableQueue) Put(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items.Enqueue(item)
	q.unfinished += 1
	q.notifyLocked()
	return nil
}

// Get removes and returns the next item, blocking until one is available or ctx is done.
func (q *JoinableQueue) Get(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if item, ok := q.items.Dequeue(); ok {
			q.notifyLocked()
			q.mu.Unlock()
			return item, nil
		}

		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrQueueClosed
		}

		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// TryGet removes and returns the next item without blocking.
func (q *JoinableQueue) TryGet() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items.Dequeue()
	if ok {
		q.notifyLocked()
	}
	return item, ok
}

// TaskDone marks one previously retrieved item as processed.
func (q *JoinableQueue) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		return ErrTaskDoneCalledTooManyTimes
	}

	q.unfinished -= 1
	q.notifyLocked()
	return nil
}

// Join blocks until every item put into the queue has been retrieved and marked done.
func (q *JoinableQueue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}

		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}

		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of items waiting to be retrieved.
func (q *JoinableQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Unfinished returns the number of items that have been put but not yet marked done.
func (q *JoinableQueue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Close releases every blocked caller with ErrQueueClosed. Items still in the queue are discarded.
func (q *JoinableQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.items.Drain()
	q.notifyLocked()
}
