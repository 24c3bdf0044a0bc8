package tasks

import "time"

// Task is one queued summary regeneration for a (document, strategy) pair.
type Task struct {
	DocID     string
	Strategy  string
	Reason    string
	Attempts  int
	NextRunAt time.Time
	StartedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeadLetter is a task that exhausted its attempts or failed permanently.
type DeadLetter struct {
	DocID    string
	Strategy string
	Reason   string
	Error    string
	Attempts int
	FailedAt time.Time
}
