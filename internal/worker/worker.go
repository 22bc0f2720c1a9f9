package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/ErlendHaa/oneseismic/internal/fabric"
	"github.com/ErlendHaa/oneseismic/internal/metrics"
	"github.com/ErlendHaa/oneseismic/internal/transfer"
)

// Worker ties the fabric, the transfer engine, and the dispatch loop
// together. One instance exists per process.
type Worker struct {
	fabric  *fabric.Fabric
	engine  Fetcher
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Worker. The fabric must already be dialed.
func New(f *fabric.Fabric, engine Fetcher, log zerolog.Logger, m *metrics.Metrics) *Worker {
	if m == nil {
		m = metrics.New()
	}
	return &Worker{fabric: f, engine: engine, log: log, metrics: m}
}

// Run is the dispatch loop. It blocks until the kill broadcast arrives
// (returns nil), the context is cancelled (returns the context error), or
// the source socket fails (returns the receive error). Per-task errors are
// logged and counted but never end the loop. An in-flight task always runs
// to completion before shutdown is observed.
func (w *Worker) Run(ctx context.Context) error {
	tasks := make(chan zmq4.Msg)
	recvErr := make(chan error, 1)
	go w.pumpSource(ctx, tasks, recvErr)

	kill := make(chan struct{})
	if w.fabric.Control != nil {
		go w.watchControl(ctx, kill)
	}

	w.log.Info().Msg("dispatch loop running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-kill:
			w.log.Info().Msg("kill broadcast received, terminating")
			return nil
		case err := <-recvErr:
			return fmt.Errorf("task queue receive: %w", err)
		case msg := <-tasks:
			w.process(ctx, msg)
		}
	}
}

// process runs one task end-to-end and accounts for the outcome.
func (w *Worker) process(ctx context.Context, msg zmq4.Msg) {
	w.metrics.TasksInFlight.Set(1)
	defer w.metrics.TasksInFlight.Set(0)

	start := time.Now()
	res, err := Execute(ctx, w.engine, msg, w.fabric.Sink)
	w.metrics.TaskDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "transfer_error"
		switch {
		case errors.Is(err, ErrDecode):
			outcome = "decode_error"
		case errors.Is(err, ErrEgress):
			outcome = "egress_error"
		case errors.Is(err, transfer.ErrNotFound):
			outcome = "not_found"
		case errors.Is(err, transfer.ErrPermission):
			outcome = "permission_denied"
		}
		w.metrics.TasksTotal.WithLabelValues(outcome).Inc()
		w.log.Error().
			Err(err).
			Str("pid", res.Pid).
			Str("guid", res.Guid).
			Msg("task failed")
		return
	}

	w.metrics.TasksTotal.WithLabelValues("ok").Inc()
	w.metrics.BytesFetched.Add(float64(res.Bytes))
	w.log.Debug().
		Str("pid", res.Pid).
		Str("guid", res.Guid).
		Int("parts", res.Parts).
		Int64("bytes", res.Bytes).
		Dur("elapsed", time.Since(start)).
		Msg("task complete")
}

// pumpSource forwards inbound task messages to the loop. Receive failures
// are reported once; a closed socket during shutdown is not an error worth
// surfacing, which the loop ensures by winning the select on kill.
func (w *Worker) pumpSource(ctx context.Context, tasks chan<- zmq4.Msg, recvErr chan<- error) {
	for {
		msg, err := w.fabric.Source.Recv()
		if err != nil {
			select {
			case recvErr <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case tasks <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// watchControl closes kill when the kill topic arrives. Other topics are
// ignored.
func (w *Worker) watchControl(ctx context.Context, kill chan<- struct{}) {
	for {
		msg, err := w.fabric.Control.Recv()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("control channel receive failed")
			}
			return
		}
		if !fabric.IsKill(msg) {
			w.log.Debug().Msg("ignoring control message with unknown topic")
			continue
		}
		close(kill)
		return
	}
}
