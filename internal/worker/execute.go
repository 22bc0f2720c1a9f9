package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/ErlendHaa/oneseismic/internal/transfer"
	"github.com/ErlendHaa/oneseismic/pkg/frag"
)

// Fetcher resolves the storage reads of one task. Satisfied by
// *transfer.Engine.
type Fetcher interface {
	Fetch(ctx context.Context, spec transfer.FetchSpec) ([][]byte, error)
}

// Sender is the sink surface the executor writes replies to. Satisfied by
// zmq4 sockets.
type Sender interface {
	Send(msg zmq4.Msg) error
}

// Stage errors wrap per-task failures so the caller can classify outcomes.
var (
	ErrDecode = errors.New("worker: malformed task descriptor")
	ErrEgress = errors.New("worker: reply delivery failed")
)

// Result describes one completed task for accounting.
type Result struct {
	Pid   string
	Guid  string
	Parts int
	Bytes int64
}

// Execute processes exactly one inbound message: decode the descriptor,
// drive the transfer engine, and route one reply per part back through the
// sink, each addressed with the task's pid. Either every reply is written
// or an error is returned; a failed task produces no success replies.
func Execute(ctx context.Context, engine Fetcher, msg zmq4.Msg, sink Sender) (Result, error) {
	if len(msg.Frames) == 0 {
		return Result{}, fmt.Errorf("%w: empty message", ErrDecode)
	}

	task, err := frag.ParseTask(msg.Frames[len(msg.Frames)-1])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	parts, err := engine.Fetch(ctx, transfer.FetchSpec{
		Endpoint: task.StorageEndpoint,
		Guid:     task.Guid,
		Ranges:   task.Ranges,
	})
	if err != nil {
		return Result{Pid: task.Pid, Guid: task.Guid}, fmt.Errorf("task %s: %w", task.Pid, err)
	}

	res := Result{Pid: task.Pid, Guid: task.Guid, Parts: len(parts)}
	for i, part := range parts {
		frames, err := frag.ReplyFrames(task, i, len(parts), part)
		if err != nil {
			return res, fmt.Errorf("task %s: %w", task.Pid, err)
		}
		if err := sink.Send(zmq4.NewMsgFrom(frames...)); err != nil {
			return res, fmt.Errorf("%w: task %s part %d: %v", ErrEgress, task.Pid, i, err)
		}
		res.Bytes += int64(len(part))
	}

	return res, nil
}
