package queue

import "time"

// JobState is the durable lifecycle state of a job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is one of the known job states.
func (s JobState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ValidTransition reports whether the edge from -> to exists in the job
// lifecycle. Ledger implementations reject anything else.
func ValidTransition(from, to JobState) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StatePending || to == StateFailed
	}
	return false
}

// DefaultMaxRetries is used when a job is enqueued without an explicit
// retry ceiling.
const DefaultMaxRetries = 3

// Job is a single unit of work persisted in the ledger.
//
// The id is assigned by the ledger on insert and increases monotonically.
// Payload and Checkpoint are opaque to the queue; only the handler
// registered for Type interprets them.
type Job struct {
	ID              int64     `json:"id"`
	Type            string    `json:"job_type"`
	Payload         []byte    `json:"payload,omitempty"`
	Priority        int       `json:"priority"`
	RunAt           time.Time `json:"run_at"`
	State           JobState  `json:"state"`
	Attempt         int       `json:"attempt"`
	MaxRetries      int       `json:"max_retries"`
	Checkpoint      []byte    `json:"checkpoint,omitempty"`
	HeartbeatAt     time.Time `json:"heartbeat_at,omitzero"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	RecurringRef    string    `json:"recurring_ref,omitempty"`
	DedupKey        string    `json:"dedup_key,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecurringSchedule is a job template plus a cadence rule. Each time an
// occurrence reaches a terminal state the engine materializes the next
// occurrence and advances NextRunAt.
type RecurringSchedule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	JobType    string    `json:"job_type"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   int       `json:"priority"`
	MaxRetries int       `json:"max_retries"`
	Cadence    string    `json:"cadence"`
	NextRunAt  time.Time `json:"next_run_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Status is the caller-facing view of a job returned by Queue.GetStatus.
type Status struct {
	ID         int64     `json:"id"`
	Type       string    `json:"job_type"`
	State      JobState  `json:"state"`
	Attempt    int       `json:"attempt"`
	MaxRetries int       `json:"max_retries"`
	RunAt      time.Time `json:"run_at"`
	Checkpoint []byte    `json:"checkpoint,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}
