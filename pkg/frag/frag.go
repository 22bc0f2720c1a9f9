package frag

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WholeObject as a range length means "read from offset to the end".
const WholeObject int64 = -1

// Common errors.
var (
	ErrMalformed = errors.New("frag: malformed task descriptor")
	ErrNoRanges  = errors.New("frag: task has no ranges")
)

// Range identifies a contiguous byte range of one blob object.
type Range struct {
	Object string `json:"object"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Task is a fragment-extraction task descriptor as produced by the upstream
// distributor. Pid is both the correlation id and the routing identity for
// replies.
type Task struct {
	Pid             string  `json:"pid"`
	Token           string  `json:"token,omitempty"`
	Guid            string  `json:"guid"`
	StorageEndpoint string  `json:"storage_endpoint,omitempty"`
	Shape           []int   `json:"shape,omitempty"`
	Function        string  `json:"function,omitempty"`
	Ranges          []Range `json:"ranges"`
}

// ParseTask decodes and validates a task descriptor.
func ParseTask(doc []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Pack encodes the task for transport.
func (t *Task) Pack() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

// Validate checks the descriptor fields the worker depends on.
func (t *Task) Validate() error {
	if t.Pid == "" {
		return fmt.Errorf("%w: missing pid", ErrMalformed)
	}
	if t.Guid == "" {
		return fmt.Errorf("%w: missing guid", ErrMalformed)
	}
	if len(t.Ranges) == 0 {
		return ErrNoRanges
	}
	for i, r := range t.Ranges {
		if r.Object == "" {
			return fmt.Errorf("%w: range %d has no object", ErrMalformed, i)
		}
		if r.Offset < 0 {
			return fmt.Errorf("%w: range %d has negative offset", ErrMalformed, i)
		}
		if r.Length == 0 || r.Length < WholeObject {
			return fmt.Errorf("%w: range %d has invalid length %d", ErrMalformed, i, r.Length)
		}
	}
	return nil
}

// Address returns the routing identity replies for this task must carry.
func (t *Task) Address() []byte {
	return []byte(t.Pid)
}

// ReplyHeader describes one part of a task's reply so the session manager
// can reassemble parts arriving in any order.
type ReplyHeader struct {
	Pid   string `json:"pid"`
	Guid  string `json:"guid"`
	Index int    `json:"index"`
	Count int    `json:"count"`
}

// ReplyFrames builds the frames of one reply message: the routing address,
// the part header, and the payload.
func ReplyFrames(t *Task, index, count int, payload []byte) ([][]byte, error) {
	hdr, err := json.Marshal(ReplyHeader{
		Pid:   t.Pid,
		Guid:  t.Guid,
		Index: index,
		Count: count,
	})
	if err != nil {
		return nil, fmt.Errorf("frag: encode reply header: %w", err)
	}
	return [][]byte{t.Address(), hdr, payload}, nil
}

// ParseReply splits a reply message back into its header and payload. The
// address frame is expected to have been consumed by the receiving socket.
func ParseReply(frames [][]byte) (*ReplyHeader, []byte, error) {
	if len(frames) != 2 {
		return nil, nil, fmt.Errorf("frag: reply has %d frames, want 2", len(frames))
	}
	var hdr ReplyHeader
	if err := json.Unmarshal(frames[0], &hdr); err != nil {
		return nil, nil, fmt.Errorf("frag: malformed reply header: %w", err)
	}
	return &hdr, frames[1], nil
}
