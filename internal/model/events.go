package model

// StateChange is emitted by the lifecycle supervisor on every transition.
// Err carries the failure which caused a revert, if any.
type StateChange struct {
	From ServiceState
	To   ServiceState
	Err  error
}

// JobOutcome is emitted by the job tracker once a job reaches a terminal
// status. Copied lists the artifacts delivered to the output directory;
// CopyErr is non-nil when placement failed partially or entirely.
type JobOutcome struct {
	Job     Job
	Copied  []string
	CopyErr error
}
