package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. ctx carries the per-job timeout.
	Execute(ctx context.Context) error

	// Key identifies what the job operates on, for logs and traces.
	Key() string

	Description() string
}
