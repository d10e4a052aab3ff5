package channel

import (
	"fmt"

	"github.com/goccy/go-json"
)

const (
	// QueueControl receives the stop sentinel of parameter-server nodes.
	QueueControl = "control"
	// QueueError receives the error message of a failed background main function.
	QueueError = "error"
	// QueueInput is the default queue that feed jobs push data into.
	QueueInput = "input"
	// QueueOutput is the default queue that inference results are read from.
	QueueOutput = "output"

	// StateKey is the key under which a manager publishes its State.
	StateKey = "state"
)

// State is the lifecycle state a node publishes through its manager.
type State string

const (
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateStopped     State = "stopped"
)

// Marker distinguishes sentinel items from data items.
type Marker string

const (
	MarkerNone         Marker = ""
	MarkerStop         Marker = "stop"
	MarkerEndPartition Marker = "end_partition"
)

// Item is one element of a named queue.
type Item struct {
	Marker Marker          `json:"marker,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewItem encodes v as the payload of a data item.
func NewItem(v any) (Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Item{}, err
	}

	return Item{Data: data}, nil
}

// MustItem is like NewItem but panics if v cannot be encoded.
func MustItem(v any) Item {
	item, err := NewItem(v)
	if err != nil {
		panic(err)
	}
	return item
}

// StopItem returns the stop sentinel.
func StopItem() Item {
	return Item{Marker: MarkerStop}
}

// EndPartitionItem returns the marker that follows the last item of an inference partition.
func EndPartitionItem() Item {
	return Item{Marker: MarkerEndPartition}
}

func (i Item) IsStop() bool {
	return i.Marker == MarkerStop
}

func (i Item) IsEndPartition() bool {
	return i.Marker == MarkerEndPartition
}

// Decode unmarshals the payload of a data item into v.
func (i Item) Decode(v any) error {
	if i.Marker != MarkerNone {
		return fmt.Errorf("cannot decode %s marker", i.Marker)
	}
	return json.Unmarshal(i.Data, v)
}

func (i Item) String() string {
	if i.Marker != MarkerNone {
		return fmt.Sprintf("Item[%s]", i.Marker)
	}
	return fmt.Sprintf("Item[%s]", string(i.Data))
}
