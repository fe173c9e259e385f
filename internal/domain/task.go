package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"porch/internal/identity"
)

// TaskState is the lifecycle state of a task, stored as TEXT and
// validated here rather than by the database.
// The service itself only ever performs the PENDING -> CLAIMED transition
// inside a claim; every other transition is driven by the owning pipeline.
type TaskState string

const (
	TaskStatePending   TaskState = "PENDING"
	TaskStateClaimed   TaskState = "CLAIMED"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateDone      TaskState = "DONE"
	TaskStateFailed    TaskState = "FAILED"
	TaskStateCancelled TaskState = "CANCELLED"
)

// IsValid reports whether the value is one of the enumerated states.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStatePending, TaskStateClaimed, TaskStateRunning,
		TaskStateDone, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// Scan implements sql.Scanner for reading the ENUM from PostgreSQL.
func (s *TaskState) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into TaskState", src)
	}

	*s = TaskState(str)
	if !s.IsValid() {
		return fmt.Errorf("invalid TaskState value: %s", str)
	}
	return nil
}

// Value implements driver.Valuer for writing the ENUM to PostgreSQL.
func (s TaskState) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid TaskState value: %s", string(s))
	}
	return string(s), nil
}

// Task is one unit of work for a pipeline. TaskInput is an opaque JSON
// document supplied by the producer; TaskInputID is the server-assigned
// SHA-256 fingerprint of its canonical form and is never set by clients.
type Task struct {
	Pipeline    Pipeline        `json:"pipeline"`
	TaskInputID string          `json:"task_input_id,omitempty"`
	TaskInput   json.RawMessage `json:"task_input"`
	Status      TaskState       `json:"status,omitempty"`

	// Created is populated on read paths that expose ordering, such as
	// the recently-changed listing. It is zero on client-supplied tasks.
	Created *time.Time `json:"created,omitempty"`
}

// Fingerprint computes the canonical SHA-256 digest of the task input.
func (t Task) Fingerprint() (string, error) {
	return identity.Fingerprint(t.TaskInput)
}

// Equivalent reports whether two tasks denote the same piece of work:
// same pipeline name and identical input fingerprints. Status and the
// server-assigned TaskInputID do not participate.
func (t Task) Equivalent(other Task) bool {
	if t.Pipeline.Name != other.Pipeline.Name {
		return false
	}
	a, err := t.Fingerprint()
	if err != nil {
		return false
	}
	b, err := other.Fingerprint()
	if err != nil {
		return false
	}
	return a == b
}

// ListTasksParams are AND-combined filters for task listing. Results are
// unordered; callers must not rely on order.
type ListTasksParams struct {
	PipelineName *string
	Status       *TaskState
}
