package domain

import "time"

// Event is one immutable audit record for a task. Events are append-only;
// nothing in the service updates or deletes them.
type Event struct {
	EventID int64     `json:"event_id"`
	TaskID  int64     `json:"task_id"`
	TokenID int64     `json:"token_id"`
	Time    time.Time `json:"time"`
	Change  string    `json:"change"`
}
