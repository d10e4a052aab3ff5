package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// DuplicateNodeRemediation is appended to duplicate-node errors for the operator.
const DuplicateNodeRemediation = "Please ensure that:\n" +
	"1. Number of executors >= number of cluster nodes\n" +
	"2. Number of tasks per executor is 1\n" +
	"3. Cluster shutdown is successfully invoked when done."

var (
	ErrRequestTimedOut = errors.New("request timed out")

	// ErrPrecondition is the parent of every caller error raised before any background work starts.
	ErrPrecondition = errors.New("precondition failed")

	ErrInvalidRoleCounts = errors.Wrap(ErrPrecondition, "reserved node count must be less than the total node count")
	ErrUnsupportedOption = errors.Wrap(ErrPrecondition, "unsupported option")
	ErrWrongInputMode    = errors.Wrap(ErrPrecondition, "operation is not valid for the cluster's input mode")
	ErrInvalidEpochs     = errors.Wrap(ErrPrecondition, "number of epochs must be >= 0")
	ErrUnknownQueue      = errors.Wrap(ErrPrecondition, "unknown queue name")

	ErrReservationTimeout = errors.New("timed out waiting for reservations to complete")
	ErrDuplicateNode      = errors.New("duplicate cluster node id detected")
	ErrLaunchFailed       = errors.New("cluster launch failed")
	ErrClusterTerminated  = errors.New("cluster has already been shut down")
)

// DuplicateNodeError reports two NodeRecords that share a (host, executor id) pair.
type DuplicateNodeError struct {
	Host       string
	ExecutorID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("%v (host=%s, executor_id=%s). %s", ErrDuplicateNode, e.Host, e.ExecutorID, DuplicateNodeRemediation)
}

func (e *DuplicateNodeError) Is(target error) bool {
	return target == ErrDuplicateNode
}
