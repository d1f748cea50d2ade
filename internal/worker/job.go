package worker

import (
	"errors"
	"fmt"
)

type JobType string

const (
	Extract  JobType = "extract"
	Generate JobType = "generate"
	Stop     JobType = "stop"
)

var (
	// ErrDispatcherBusy is returned when the intake queue is full.
	ErrDispatcherBusy = errors.New("dispatcher queue full")
	// ErrDispatcherStopped is returned for jobs submitted or pending after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrJobCanceled is reported to waiters of jobs dropped by CancelSession.
	ErrJobCanceled = errors.New("job canceled")
)

// Job is one unit of blocking work owned by a session.
type Job struct {
	Type      JobType
	SessionID string

	run  func()
	done chan error
}

func newJob(jobType JobType, sessionID string, run func()) Job {
	return Job{
		Type:      jobType,
		SessionID: sessionID,
		run:       run,
		done:      make(chan error, 1),
	}
}

func (job Job) finish(err error) {
	if job.done == nil {
		return
	}
	select {
	case job.done <- err:
	default:
	}
}

func (job Job) execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s job for session %s panicked: %v", job.Type, job.SessionID, r)
		}
	}()
	if job.run != nil {
		job.run()
	}
	return nil
}
