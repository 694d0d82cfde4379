package engine

import "errors"

// MaxAttempts is the retry ceiling for a node job, counting the first try.
const MaxAttempts = 3

var (
	// ErrNodeNotFound is a configuration error: a job names a node the workflow lacks.
	ErrNodeNotFound = errors.New("node not found in workflow")

	// ErrUnexpectedJob means a processor was handed a job of another type.
	ErrUnexpectedJob = errors.New("unexpected job type")

	// ErrNodeFailed wraps executor errors and failed results while attempts remain.
	ErrNodeFailed = errors.New("node execution failed")
)
