package experiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

var (
	ErrNotTerminal     = errors.New("outcome is not terminal")
	ErrReporterStarted = errors.New("experiment record has already been started")
)

// Reporter owns one run's experiment record and is the only thing that writes it.
//
// The record moves from RUNNING to exactly one terminal outcome. Finalize may be called from any
// number of goroutines; only the first call records an outcome. After Close, nothing is written.
type Reporter struct {
	log logger.Logger

	sink Sink
	key  Key

	mu      sync.Mutex
	record  Record
	started bool
	closed  bool

	now func() time.Time
}

// NewReporter creates a Reporter that writes record to sink under key.
func NewReporter(sink Sink, key Key, record Record) *Reporter {
	r := &Reporter{
		sink:   sink,
		key:    key,
		record: record,
		now:    time.Now,
	}
	config.InitLogger(&r.log, r)

	return r
}

func (r *Reporter) String() string {
	return fmt.Sprintf("Reporter[%s] ", r.key)
}

// Key returns the key of the record in the sink.
func (r *Reporter) Key() Key {
	return r.key
}

// Start marks the record RUNNING and writes it.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrReporterStarted
	}

	r.started = true
	r.record.Status = types.OutcomeRunning
	r.record.StartTime = r.now()

	return r.writeLocked(ctx)
}

// Finalize records a terminal outcome. cause, if non-nil, is stored in the record.
//
// Finalize returns false without writing anything if the record already has a terminal outcome or
// the Reporter has been closed.
func (r *Reporter) Finalize(ctx context.Context, outcome types.Outcome, cause error) (bool, error) {
	if !outcome.IsTerminal() {
		return false, errors.Wrapf(ErrNotTerminal, "cannot finalize experiment as %s", outcome)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.record.Status.IsTerminal() {
		r.log.Debug("Ignoring %s: experiment is already %s (closed=%v).", outcome, r.record.Status, r.closed)
		return false, nil
	}

	finished := r.now()
	r.record.Status = outcome
	r.record.FinishedTime = &finished
	if !r.record.StartTime.IsZero() {
		r.record.Duration = finished.Sub(r.record.StartTime)
	}
	if cause != nil {
		r.record.Error = cause.Error()
	}

	r.log.Info("Experiment %s finished with status %s.", r.key, outcome)
	return true, r.writeLocked(ctx)
}

// Close prevents any further writes.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Outcome returns the current status of the record.
func (r *Reporter) Outcome() types.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Status
}

// Record returns a copy of the record.
func (r *Reporter) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.record
	record.VersionedResources = append([]string(nil), r.record.VersionedResources...)
	return record
}

func (r *Reporter) writeLocked(ctx context.Context) error {
	doc, err := json.Marshal(&r.record)
	if err != nil {
		return err
	}

	if err = r.sink.Put(ctx, r.key, doc); err != nil {
		r.log.Error("Failed to write experiment %s (%s) to the audit sink: %v", r.key, r.record.Status, err)
		return err
	}

	return nil
}
