package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/ErlendHaa/oneseismic/pkg/frag"
)

// RetryOptions defines retry behavior for storage reads.
type RetryOptions struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Options configures the Engine.
type Options struct {
	// Transfers bounds simultaneous outstanding storage reads. Default: 4
	Transfers int

	// ChunkSize is the maximum size of a single storage read; larger
	// ranges are split. Default: 8MB
	ChunkSize int64

	// Retry controls backoff for transient storage errors.
	Retry RetryOptions

	// OnRetry, when set, is invoked before each retry of a storage read.
	OnRetry func(err error)
}

// FetchSpec describes the storage reads of one task.
type FetchSpec struct {
	Endpoint string
	Guid     string
	Ranges   []frag.Range
}

// Engine resolves fragment fetches against a Storage backend with bounded
// concurrency. An Engine is cheap and holds no per-task state; one instance
// is shared across all task iterations.
type Engine struct {
	store Storage
	opts  Options
}

// NewEngine creates an Engine over the given storage backend.
func NewEngine(store Storage, opts Options) *Engine {
	if opts.Transfers <= 0 {
		opts.Transfers = 4
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8 * 1024 * 1024
	}
	if opts.Retry.Backoff <= 0 {
		opts.Retry.Backoff = time.Second
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = 30 * time.Second
	}
	return &Engine{store: store, opts: opts}
}

// Fetch resolves every range in the spec and returns the parts in request
// order. It returns only when all parts are resolved or a permanent failure
// is known; no partial result is ever returned alongside an error.
func (e *Engine) Fetch(ctx context.Context, spec FetchSpec) ([][]byte, error) {
	if len(spec.Ranges) == 0 {
		return nil, frag.ErrNoRanges
	}

	parts := make([][]byte, len(spec.Ranges))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Transfers)

	for i, r := range spec.Ranges {
		i, r := i, r
		obj := Object{Endpoint: spec.Endpoint, Guid: spec.Guid, Name: r.Object}

		if r.Length > e.opts.ChunkSize {
			// Split the range; chunks land directly in a shared
			// buffer and count against the same transfer bound.
			buf := make([]byte, r.Length)
			parts[i] = buf

			for off := int64(0); off < r.Length; off += e.opts.ChunkSize {
				n := min(e.opts.ChunkSize, r.Length-off)
				chunkOff := r.Offset + off
				dst := buf[off : off+n]

				g.Go(func() error {
					data, err := e.read(ctx, obj, chunkOff, n)
					if err != nil {
						return err
					}
					copy(dst, data)
					return nil
				})
			}
			continue
		}

		g.Go(func() error {
			data, err := e.read(ctx, obj, r.Offset, r.Length)
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// read performs one storage read, retrying transient failures.
func (e *Engine) read(ctx context.Context, obj Object, offset, length int64) ([]byte, error) {
	backoff := retry.NewExponential(e.opts.Retry.Backoff)
	backoff = retry.WithCappedDuration(e.opts.Retry.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(e.opts.Retry.Attempts), backoff)

	var data []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		data, err = e.store.ReadRange(ctx, obj, offset, length)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		if e.opts.OnRetry != nil {
			e.opts.OnRetry(err)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s@%d+%d: %w", obj.Guid, obj.Name, offset, length, err)
	}

	expect := length
	if expect > 0 && int64(len(data)) != expect {
		return nil, fmt.Errorf("fetch %s/%s@%d+%d: short read of %d bytes",
			obj.Guid, obj.Name, offset, length, len(data))
	}
	return data, nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
