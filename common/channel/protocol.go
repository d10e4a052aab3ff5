package channel

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

var (
	ErrUnauthorized     = errors.New("invalid authentication key")
	ErrUnknownOperation = errors.New("unknown control-channel operation")
	ErrManagerClosed    = errors.New("manager has been closed")
	ErrClientClosed     = errors.New("control-channel client has been closed")
)

type operation string

const (
	opPut      operation = "put"
	opGet      operation = "get"
	opTaskDone operation = "task_done"
	opJoin     operation = "join"
	opLen      operation = "len"
	opGetValue operation = "get_value"
	opSetValue operation = "set_value"
	opPing     operation = "ping"

	// opCancel abandons the blocking request whose id is carried in Key.
	opCancel operation = "cancel"
)

type errorCode string

const (
	codeNone         errorCode = ""
	codeUnauthorized errorCode = "unauthorized"
	codeUnknownQueue errorCode = "unknown_queue"
	codeUnknownOp    errorCode = "unknown_op"
	codeClosed       errorCode = "closed"
	codeTimeout      errorCode = "timeout"
	codeCancelled    errorCode = "cancelled"
	codeFailed       errorCode = "failed"
)

type request struct {
	ID      string    `json:"id"`
	AuthKey string    `json:"authkey"`
	Op      operation `json:"op"`
	Queue   string    `json:"queue,omitempty"`
	Item    *Item     `json:"item,omitempty"`
	Key     string    `json:"key,omitempty"`
	Value   string    `json:"value,omitempty"`

	// TimeoutMillis bounds blocking operations on the manager. Zero means no bound.
	TimeoutMillis int64 `json:"timeout_ms,omitempty"`
}

func (r *request) String() string {
	return fmt.Sprintf("request[id=%s, op=%s, queue=%s]", r.ID, r.Op, r.Queue)
}

type response struct {
	ID     string    `json:"id"`
	Code   errorCode `json:"code,omitempty"`
	Error  string    `json:"error,omitempty"`
	Item   *Item     `json:"item,omitempty"`
	Value  string    `json:"value,omitempty"`
	Found  bool      `json:"found,omitempty"`
	Length int       `json:"length,omitempty"`
}

// err converts the wire representation of a failure back into a sentinel error.
func (r *response) err() error {
	switch r.Code {
	case codeNone:
		return nil
	case codeUnauthorized:
		return ErrUnauthorized
	case codeUnknownQueue:
		return pkgerrors.Wrap(types.ErrUnknownQueue, r.Error)
	case codeUnknownOp:
		return pkgerrors.Wrap(ErrUnknownOperation, r.Error)
	case codeClosed:
		return pkgerrors.Wrap(ErrQueueClosed, r.Error)
	case codeTimeout:
		return pkgerrors.Wrap(types.ErrRequestTimedOut, r.Error)
	case codeCancelled:
		return pkgerrors.Wrap(context.Canceled, r.Error)
	default:
		return errors.New(r.Error)
	}
}
