// Package transfer executes the blob reads behind one fragment task.
//
// The Engine resolves all byte ranges of a task against a Storage backend,
// fanning the reads out over a bounded pool so that no more than the
// configured number of storage connections is outstanding at any time. Large
// ranges are split into chunks which share the same bound. The call is
// synchronous: Fetch returns only when every part is resolved or the first
// permanent failure is known.
//
// Two Storage backends exist: a gocloud.dev bucket (any blob scheme the
// binary links in) and signed HTTPS range requests against the storage
// endpoint. Transient storage errors are retried with exponential backoff;
// not-found and permission errors are permanent and fail the task
// immediately.
package transfer
