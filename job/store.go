package job

import "errors"

// ErrNotFound indicates the requested job does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("job not found")

// Store owns job records for their lifetime.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ownership: Get and the List methods return caller-owned snapshots;
//   mutations are only visible after a subsequent Put.
// - Errors: Get returns ErrNotFound for unknown ids.
type Store interface {
	// Put inserts or replaces a job record.
	Put(j *Job) error

	// Get returns a snapshot of the job with the given id.
	Get(id string) (*Job, error)

	// ListBySession returns snapshots of the session's jobs, newest first.
	ListBySession(sessionID string) ([]*Job, error)

	// ListByUser returns snapshots of the user's jobs, newest first.
	ListByUser(userID string) ([]*Job, error)
}
