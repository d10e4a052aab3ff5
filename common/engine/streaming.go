package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"
)

var (
	ErrStreamStopped = errors.New("streaming context has been stopped")
)

// LocalStreamingContext is an in-process Stream and StreamingContext. Batches are pushed by the
// caller and processed one at a time, in order, by every registered BatchFunc.
type LocalStreamingContext struct {
	log logger.Logger

	eng *LocalEngine

	handlersMu sync.Mutex
	handlers   []BatchFunc

	mu      sync.RWMutex
	batches chan *Dataset
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc

	terminated     chan struct{}
	terminatedOnce sync.Once
	err            error
}

// NewLocalStreamingContext creates a streaming context that buffers up to bufferSize batches.
// eng may be nil; if not, it is stopped by Stop(true, ...).
func NewLocalStreamingContext(eng *LocalEngine, bufferSize int) *LocalStreamingContext {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalStreamingContext{
		eng:        eng,
		batches:    make(chan *Dataset, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
		terminated: make(chan struct{}),
	}
	config.InitLogger(&s.log, s)

	return s
}

// ForeachBatch registers fn. Handlers registered after Start are applied to subsequent batches.
func (s *LocalStreamingContext) ForeachBatch(fn BatchFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Start begins processing batches.
func (s *LocalStreamingContext) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	go s.process()
}

// Push enqueues a micro-batch, blocking while the buffer is full.
func (s *LocalStreamingContext) Push(batch *Dataset) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStreamStopped
	}

	s.batches <- batch
	return nil
}

func (s *LocalStreamingContext) process() {
	defer s.terminate()

	for batch := range s.batches {
		if s.ctx.Err() != nil {
			return
		}

		s.handlersMu.Lock()
		handlers := append([]BatchFunc(nil), s.handlers...)
		s.handlersMu.Unlock()

		for _, handler := range handlers {
			if err := handler(s.ctx, batch); err != nil {
				s.log.Error("Streaming batch failed: %v", err)
				s.err = err
				s.cancel()
				return
			}
		}
	}
}

func (s *LocalStreamingContext) terminate() {
	s.terminatedOnce.Do(func() { close(s.terminated) })
}

// AwaitTerminationOrTimeout returns true once batch processing has ended.
func (s *LocalStreamingContext) AwaitTerminationOrTimeout(timeout time.Duration) (bool, error) {
	select {
	case <-s.terminated:
		return true, s.err
	case <-time.After(timeout):
		return false, nil
	}
}

// Stop stops accepting batches. A graceful stop processes every buffered batch before terminating.
func (s *LocalStreamingContext) Stop(stopEngine bool, graceful bool) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.batches)
	}
	started := s.started
	s.mu.Unlock()

	if !graceful {
		s.cancel()
	}

	if !started {
		s.terminate()
	}
	<-s.terminated

	if stopEngine && s.eng != nil {
		s.eng.Stop()
	}

	s.log.Debug("Streaming context stopped (graceful=%v, stopEngine=%v).", graceful, stopEngine)
}
