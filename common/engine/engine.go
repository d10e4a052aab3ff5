// Package engine defines the contract of the data-parallel execution engine that runs cluster nodes,
// and provides LocalEngine, an in-process implementation with a fixed number of executor slots.
package engine

import (
	"context"
	"fmt"
	"time"
)

// TaskContext is passed to every invocation of a PartitionFunc.
// It is cancelled when the task's job is cancelled.
type TaskContext struct {
	context.Context

	JobID       int
	StageID     int
	PartitionID int

	// ExecutorID and Host identify the executor slot the task runs in.
	ExecutorID string
	Host       string
}

func (tc *TaskContext) String() string {
	return fmt.Sprintf("Task[job=%d, stage=%d, partition=%d, executor=%s@%s]",
		tc.JobID, tc.StageID, tc.PartitionID, tc.ExecutorID, tc.Host)
}

// PartitionFunc is run once per partition of a Dataset on some executor.
// The returned items become the partition's result.
type PartitionFunc func(tc *TaskContext, items []any) ([]any, error)

// StageInfo is a snapshot of a stage's task counters.
type StageInfo struct {
	StageID           int
	NumTasks          int
	NumActiveTasks    int
	NumCompletedTasks int
	NumFailedTasks    int
}

// StatusTracker exposes the job and stage status of an Engine.
type StatusTracker interface {
	// ActiveJobIDs returns the ids of every job that has not completed.
	ActiveJobIDs() []int

	// ActiveStageIDs returns the ids of every stage that has not completed.
	ActiveStageIDs() []int

	// StageInfo returns a snapshot of the given stage, if it is known.
	StageInfo(stageID int) (StageInfo, bool)
}

// Engine runs partition functions on remote executors.
type Engine interface {
	// ApplicationID identifies the application the engine runs on behalf of.
	ApplicationID() string

	// DefaultFS is the URI of the engine's default filesystem.
	DefaultFS() string

	// NumExecutors returns the number of executor slots.
	NumExecutors() int

	// RunJob runs fn once for every partition of ds and blocks until all of them have completed.
	// The first task failure cancels the remaining tasks of the job and is returned.
	RunJob(ctx context.Context, ds *Dataset, fn PartitionFunc) ([][]any, error)

	StatusTracker() StatusTracker

	// CancelAllJobs cancels every active job. The engine itself keeps running.
	CancelAllJobs()
}

// BatchFunc processes one micro-batch of a stream.
type BatchFunc func(ctx context.Context, batch *Dataset) error

// Stream is an unbounded input that arrives as a sequence of micro-batches.
type Stream interface {
	// ForeachBatch registers fn to be applied to every micro-batch.
	ForeachBatch(fn BatchFunc)
}

// StreamingContext controls the lifetime of streaming computations.
type StreamingContext interface {
	// AwaitTerminationOrTimeout waits for the streaming computation to terminate. It returns true if it
	// terminated and false if the timeout elapsed first. An error is returned if the computation failed.
	AwaitTerminationOrTimeout(timeout time.Duration) (bool, error)

	// Stop stops the streaming computation. If stopEngine is true, the underlying engine is stopped too.
	// If graceful is true, Stop waits for every received batch to be processed.
	Stop(stopEngine bool, graceful bool)
}
