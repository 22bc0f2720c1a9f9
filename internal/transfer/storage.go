package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	fraghttp "github.com/ErlendHaa/oneseismic/internal/http"
)

// Permanent storage errors. Anything else is treated as transient and
// retried by the Engine.
var (
	ErrNotFound   = errors.New("transfer: object not found")
	ErrPermission = errors.New("transfer: permission denied")
)

// Object names one blob to read from. Endpoint is only meaningful to
// endpoint-addressed backends and may be empty.
type Object struct {
	Endpoint string
	Guid     string
	Name     string
}

func (o Object) key() string {
	return o.Guid + "/" + o.Name
}

// Storage is the minimal interface for reading blob ranges. Implementations
// hide the storage provider from the rest of the system, which also makes
// testing easy through custom implementations.
type Storage interface {
	// ReadRange reads length bytes starting at offset. A length of -1
	// reads from offset to the end of the object.
	ReadRange(ctx context.Context, obj Object, offset, length int64) ([]byte, error)
}

// BucketStorage reads ranges from a gocloud bucket.
type BucketStorage struct {
	bucket *blob.Bucket
}

// NewBucketStorage wraps an open bucket. The caller keeps ownership and is
// responsible for closing it.
func NewBucketStorage(bucket *blob.Bucket) *BucketStorage {
	return &BucketStorage{bucket: bucket}
}

func (s *BucketStorage) ReadRange(ctx context.Context, obj Object, offset, length int64) ([]byte, error) {
	r, err := s.bucket.NewRangeReader(ctx, obj.key(), offset, length, nil)
	if err != nil {
		return nil, classifyBucketErr(obj, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.key(), err)
	}
	return data, nil
}

func classifyBucketErr(obj Object, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, obj.key())
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermission, obj.key())
	default:
		return fmt.Errorf("read %s: %w", obj.key(), err)
	}
}

// EndpointStorage reads ranges with signed HTTPS requests against a storage
// endpoint, {endpoint}/{guid}/{object}. A task may carry its own endpoint,
// which takes precedence over the configured one.
type EndpointStorage struct {
	client   *fraghttp.Client
	endpoint string
}

// NewEndpointStorage builds an endpoint-addressed backend. Retry policy is
// owned by the Engine, so the underlying client performs single attempts.
func NewEndpointStorage(endpoint string, creds fraghttp.Credentials) (*EndpointStorage, error) {
	opts := fraghttp.DefaultOptions()
	opts.RetryAttempts = 0
	opts.Credentials = creds

	client, err := fraghttp.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &EndpointStorage{client: client, endpoint: endpoint}, nil
}

func (s *EndpointStorage) ReadRange(ctx context.Context, obj Object, offset, length int64) ([]byte, error) {
	endpoint := s.endpoint
	if obj.Endpoint != "" {
		endpoint = obj.Endpoint
	}
	url := strings.TrimRight(endpoint, "/") + "/" + obj.key()

	end := int64(-1)
	if length > 0 {
		end = offset + length - 1
	}

	resp, err := s.client.GetRange(ctx, url, offset, end)
	if err != nil {
		return nil, classifyEndpointErr(obj, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.key(), err)
	}
	if length > 0 && int64(len(data)) != length {
		return nil, fmt.Errorf("read %s: got %d bytes, want %d", obj.key(), len(data), length)
	}
	return data, nil
}

func classifyEndpointErr(obj Object, err error) error {
	switch {
	case errors.Is(err, fraghttp.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, obj.key())
	case errors.Is(err, fraghttp.ErrForbidden), errors.Is(err, fraghttp.ErrUnauthorized):
		return fmt.Errorf("%w: %s", ErrPermission, obj.key())
	default:
		return fmt.Errorf("read %s: %w", obj.key(), err)
	}
}
