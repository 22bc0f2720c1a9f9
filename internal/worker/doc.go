// Package worker implements the fragmentd dispatch loop and task executor.
//
// The loop admits at most one task at a time: it waits on the task queue
// and the shutdown broadcast simultaneously, runs the executor to
// completion for each inbound descriptor, and only then returns to
// waiting. The transfer engine may fan out within a task, but that
// parallelism is invisible here.
//
// Per-task failures (malformed descriptors, storage errors, unroutable
// replies) are logged and counted, never fatal. The loop ends on the kill
// broadcast, on context cancellation, or when the source socket fails.
package worker
