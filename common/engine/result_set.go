package engine

import (
	"context"
	"sync/atomic"
)

// ResultSet is the lazily evaluated result of mapping a function over every partition of a Dataset.
// Nothing runs until Collect is called; every call to Collect evaluates the mapping again.
type ResultSet struct {
	eng Engine
	ds  *Dataset
	fn  PartitionFunc

	evaluations atomic.Int32
}

// MapPartitions returns a ResultSet that applies fn to every partition of ds on eng.
func MapPartitions(eng Engine, ds *Dataset, fn PartitionFunc) *ResultSet {
	return &ResultSet{eng: eng, ds: ds, fn: fn}
}

// NumPartitions returns the number of result partitions, which equals the number of input partitions.
func (r *ResultSet) NumPartitions() int {
	return r.ds.NumPartitions()
}

// Evaluations returns how many times the ResultSet has been evaluated.
func (r *ResultSet) Evaluations() int {
	return int(r.evaluations.Load())
}

// Collect evaluates the mapping and returns one result partition per input partition.
func (r *ResultSet) Collect(ctx context.Context) ([][]any, error) {
	r.evaluations.Add(1)
	return r.eng.RunJob(ctx, r.ds, r.fn)
}

// CollectItems evaluates the mapping and returns the concatenated results.
func (r *ResultSet) CollectItems(ctx context.Context) ([]any, error) {
	partitions, err := r.Collect(ctx)
	if err != nil {
		return nil, err
	}

	var items []any
	for _, partition := range partitions {
		items = append(items, partition...)
	}
	return items, nil
}
