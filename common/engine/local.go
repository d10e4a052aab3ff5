package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"
)

var (
	ErrEngineStopped = errors.New("engine has been stopped")
	ErrJobCancelled  = errors.New("job was cancelled")
	ErrTaskPanicked  = errors.New("task panicked")
)

type stageState struct {
	info StageInfo
}

type jobState struct {
	id      int
	stageID int
	cancel  context.CancelFunc
}

// LocalEngine runs partition functions in goroutines, each bound to one of a fixed number of
// executor slots. A task holds its slot until its PartitionFunc returns, so tasks that never return
// permanently occupy their executor, and later jobs only run on the remaining slots.
//
// Free slots are handed out in FIFO order: a slot released by a finished task is reused only after
// every slot that was already free.
type LocalEngine struct {
	log logger.Logger

	appID     string
	defaultFS string
	host      string

	numExecutors int
	slots        chan int

	mu          sync.Mutex
	nextJobID   int
	nextStageID int
	jobs        map[int]*jobState
	stages      map[int]*stageState

	stopped atomic.Bool
}

// NewLocalEngine creates a LocalEngine with numExecutors slots on the given host.
func NewLocalEngine(appID string, defaultFS string, host string, numExecutors int) *LocalEngine {
	e := &LocalEngine{
		appID:        appID,
		defaultFS:    defaultFS,
		host:         host,
		numExecutors: numExecutors,
		slots:        make(chan int, numExecutors),
		jobs:         make(map[int]*jobState),
		stages:       make(map[int]*stageState),
	}
	config.InitLogger(&e.log, e)

	for i := 0; i < numExecutors; i++ {
		e.slots <- i
	}

	return e
}

func (e *LocalEngine) ApplicationID() string {
	return e.appID
}

func (e *LocalEngine) DefaultFS() string {
	return e.defaultFS
}

func (e *LocalEngine) NumExecutors() int {
	return e.numExecutors
}

func (e *LocalEngine) StatusTracker() StatusTracker {
	return e
}

// ActiveJobIDs returns the ids of the jobs that have not yet completed, in ascending order.
func (e *LocalEngine) ActiveJobIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ActiveStageIDs returns the ids of the stages of every active job, in ascending order.
func (e *LocalEngine) ActiveStageIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int, 0, len(e.jobs))
	for _, job := range e.jobs {
		ids = append(ids, job.stageID)
	}
	sort.Ints(ids)
	return ids
}

func (e *LocalEngine) StageInfo(stageID int) (StageInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stage, ok := e.stages[stageID]
	if !ok {
		return StageInfo{}, false
	}
	return stage.info, true
}

// CancelAllJobs cancels every active job. Tasks observe the cancellation through their TaskContext.
func (e *LocalEngine) CancelAllJobs() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, job := range e.jobs {
		e.log.Warn("Cancelling job %d.", job.id)
		job.cancel()
	}
}

// Stop cancels every active job and refuses new ones.
func (e *LocalEngine) Stop() {
	if e.stopped.CompareAndSwap(false, true) {
		e.CancelAllJobs()
	}
}

func (e *LocalEngine) updateStage(stageID int, update func(info *StageInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stage, ok := e.stages[stageID]; ok {
		update(&stage.info)
	}
}

func (e *LocalEngine) finishJob(jobID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.jobs, jobID)
}

type taskResult struct {
	partition int
	items     []any
	err       error
}

// RunJob runs fn once per partition of ds. Partitions are dispatched in order, each one as soon as
// an executor slot is free.
func (e *LocalEngine) RunJob(ctx context.Context, ds *Dataset, fn PartitionFunc) ([][]any, error) {
	if e.stopped.Load() {
		return nil, ErrEngineStopped
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	jobID, stageID := e.nextJobID, e.nextStageID
	e.nextJobID += 1
	e.nextStageID += 1
	e.jobs[jobID] = &jobState{id: jobID, stageID: stageID, cancel: cancel}
	e.stages[stageID] = &stageState{info: StageInfo{StageID: stageID, NumTasks: ds.NumPartitions()}}
	e.mu.Unlock()
	defer e.finishJob(jobID)

	e.log.Debug("Starting job %d (stage %d) with %d partition(s).", jobID, stageID, ds.NumPartitions())

	results := make(chan taskResult, ds.NumPartitions())
	go e.dispatch(jobCtx, jobID, stageID, ds, fn, results)

	output := make([][]any, ds.NumPartitions())
	for remaining := ds.NumPartitions(); remaining > 0; remaining-- {
		select {
		case result := <-results:
			if result.err != nil && jobCtx.Err() != nil && ctx.Err() == nil {
				return nil, errors.Wrapf(ErrJobCancelled, "job %d: %v", jobID, result.err)
			}
			if result.err != nil {
				e.log.Error("Job %d failed: partition %d: %v", jobID, result.partition, result.err)
				return nil, result.err
			}
			output[result.partition] = result.items
		case <-jobCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrapf(ErrJobCancelled, "job %d", jobID)
		}
	}

	e.log.Debug("Job %d completed.", jobID)
	return output, nil
}

func (e *LocalEngine) dispatch(ctx context.Context, jobID int, stageID int, ds *Dataset, fn PartitionFunc, results chan<- taskResult) {
	for partition := 0; partition < ds.NumPartitions(); partition++ {
		var slot int
		select {
		case slot = <-e.slots:
		case <-ctx.Done():
			return
		}

		tc := &TaskContext{
			Context:     ctx,
			JobID:       jobID,
			StageID:     stageID,
			PartitionID: partition,
			ExecutorID:  strconv.Itoa(slot),
			Host:        e.host,
		}

		e.updateStage(stageID, func(info *StageInfo) { info.NumActiveTasks += 1 })
		go e.runTask(tc, slot, ds.Partition(partition), fn, results)
	}
}

func (e *LocalEngine) runTask(tc *TaskContext, slot int, items []any, fn PartitionFunc, results chan<- taskResult) {
	var (
		output []any
		err    error
	)

	defer func() {
		e.slots <- slot

		e.updateStage(tc.StageID, func(info *StageInfo) {
			info.NumActiveTasks -= 1
			if err != nil {
				info.NumFailedTasks += 1
			} else {
				info.NumCompletedTasks += 1
			}
		})

		results <- taskResult{partition: tc.PartitionID, items: output, err: err}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrTaskPanicked, "%v: %v", tc, r)
		}
	}()

	output, err = fn(tc, items)
	if err != nil {
		err = errors.Wrapf(err, "%v", tc)
	}
}

func (e *LocalEngine) String() string {
	return fmt.Sprintf("LocalEngine[%s] ", e.appID)
}
