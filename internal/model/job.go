package model

import "time"

// JobStatus is the lifecycle of a single submission. A job mutates exactly
// once, Pending to Succeeded or Failed, and never again.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobSucceeded
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Job is one user-submitted unit of work, tracked from submission to its
// terminal outcome.
type Job struct {
	ID          string
	SourceFile  string
	OutputDir   string
	SubmittedAt time.Time
	Status      JobStatus
	// ResultFiles holds paths relative to the shared data root, in the
	// order the engine reported them. Empty until the job resolves.
	ResultFiles []string
	ErrorDetail string
}

// Resolution is a terminal outcome delivered for a job, either by the
// callback listener or by the expiry timer.
type Resolution struct {
	Status       JobStatus
	Files        []string
	ErrorCode    string
	ErrorMessage string
}
