package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskState_IsValid(t *testing.T) {
	for _, s := range []TaskState{
		TaskStatePending, TaskStateClaimed, TaskStateRunning,
		TaskStateDone, TaskStateFailed, TaskStateCancelled,
	} {
		assert.True(t, s.IsValid(), string(s))
	}

	assert.False(t, TaskState("SLEEPING").IsValid())
	assert.False(t, TaskState("pending").IsValid())
	assert.False(t, TaskState("").IsValid())
}

func TestTask_Equivalent_IgnoresKeyOrderAndStatus(t *testing.T) {
	a := Task{
		Pipeline:  namedPipeline("ptest"),
		TaskInput: json.RawMessage(`{"a":1,"b":2}`),
		Status:    TaskStatePending,
	}
	b := Task{
		Pipeline:  namedPipeline("ptest"),
		TaskInput: json.RawMessage(`{"b": 2, "a": 1}`),
		Status:    TaskStateDone,
	}

	assert.True(t, a.Equivalent(b))
	assert.True(t, b.Equivalent(a))
}

func TestTask_Equivalent_DifferentPipeline(t *testing.T) {
	a := Task{Pipeline: namedPipeline("ptest"), TaskInput: json.RawMessage(`{"a":1}`)}
	b := Task{Pipeline: namedPipeline("other"), TaskInput: json.RawMessage(`{"a":1}`)}

	assert.False(t, a.Equivalent(b))
}

func TestTask_Equivalent_DifferentInput(t *testing.T) {
	a := Task{Pipeline: namedPipeline("ptest"), TaskInput: json.RawMessage(`{"n":1}`)}
	b := Task{Pipeline: namedPipeline("ptest"), TaskInput: json.RawMessage(`{"n":1.0}`)}

	assert.False(t, a.Equivalent(b))
}
