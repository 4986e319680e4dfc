package scheduler

import (
	"context"
	"fmt"
	"log"
)

// Sweeper deletes link tokens that can no longer be consumed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// LinkTokenSweepJob removes expired and consumed link tokens. Expiry is still
// enforced at consume time; the sweep only reclaims storage.
type LinkTokenSweepJob struct {
	sweeper Sweeper
}

func NewLinkTokenSweepJob(sweeper Sweeper) *LinkTokenSweepJob {
	return &LinkTokenSweepJob{sweeper: sweeper}
}

func (j *LinkTokenSweepJob) Execute(ctx context.Context) error {
	n, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("link token sweep failed: %w", err)
	}
	log.Printf("Link token sweep removed %d tokens", n)
	return nil
}

func (j *LinkTokenSweepJob) Key() string {
	return "link_tokens"
}

func (j *LinkTokenSweepJob) Description() string {
	return "Link token sweep"
}

// SweepJobProvider returns a job provider that yields one sweep per batch.
func SweepJobProvider(sweeper Sweeper) func(context.Context) ([]Job, error) {
	return func(context.Context) ([]Job, error) {
		return []Job{NewLinkTokenSweepJob(sweeper)}, nil
	}
}
