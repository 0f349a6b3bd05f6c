package sessions

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Job is the handle of one supervised plan run.
type Job struct {
	ID        string
	SessionID string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(sessionID string, cancel context.CancelFunc, now time.Time) *Job {
	return &Job{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		StartedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed once the job has written its result.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Running reports whether the job is still in flight.
func (j *Job) Running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the job to stop. The job still writes a result and a terminal
// event.
func (j *Job) Cancel() {
	j.cancel()
}
