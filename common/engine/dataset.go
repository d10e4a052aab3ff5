package engine

// Dataset is an immutable, partitioned sequence of items.
type Dataset struct {
	partitions [][]any
}

// Parallelize splits items into numPartitions contiguous partitions of near-equal size.
func Parallelize(items []any, numPartitions int) *Dataset {
	if numPartitions < 1 {
		numPartitions = 1
	}

	partitions := make([][]any, numPartitions)
	for i := 0; i < numPartitions; i++ {
		from := i * len(items) / numPartitions
		to := (i + 1) * len(items) / numPartitions

		partition := make([]any, to-from)
		copy(partition, items[from:to])
		partitions[i] = partition
	}

	return &Dataset{partitions: partitions}
}

// Range returns the integers [0, n) split into numPartitions partitions.
func Range(n int, numPartitions int) *Dataset {
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}
	return Parallelize(items, numPartitions)
}

// FromPartitions builds a Dataset from explicit partitions.
func FromPartitions(partitions ...[]any) *Dataset {
	copied := make([][]any, len(partitions))
	for i, partition := range partitions {
		copied[i] = append([]any(nil), partition...)
	}
	return &Dataset{partitions: copied}
}

// Union returns the logical concatenation of the datasets. The partitions of the result are the
// partitions of every input, in order. No items are copied.
func Union(datasets ...*Dataset) *Dataset {
	var partitions [][]any
	for _, ds := range datasets {
		partitions = append(partitions, ds.partitions...)
	}
	return &Dataset{partitions: partitions}
}

// Union returns the concatenation of d and other.
func (d *Dataset) Union(other *Dataset) *Dataset {
	return Union(d, other)
}

// NumPartitions returns the number of partitions.
func (d *Dataset) NumPartitions() int {
	return len(d.partitions)
}

// Partition returns the items of the i-th partition.
func (d *Dataset) Partition(i int) []any {
	return d.partitions[i]
}

// Count returns the total number of items.
func (d *Dataset) Count() int {
	count := 0
	for _, partition := range d.partitions {
		count += len(partition)
	}
	return count
}

// Items returns every item, partition by partition.
func (d *Dataset) Items() []any {
	items := make([]any, 0, d.Count())
	for _, partition := range d.partitions {
		items = append(items, partition...)
	}
	return items
}
