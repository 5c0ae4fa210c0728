package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskPriority orders background work; higher value runs first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskDead    TaskStatus = "dead"
)

// Task is a unit of deferrable background work (notification, settlement
// dispatch, analytics materialisation). Payload is opaque to the queue;
// handlers must be idempotent since delivery is at-least-once. Kind selects
// the registered handler that executes Payload.
type Task struct {
	ID          uuid.UUID
	Kind        string
	Priority    TaskPriority
	Payload     any
	Attempt     int
	MaxAttempts int
	NextRun     time.Time
	Status      TaskStatus
	LastError   string
	EnqueueSeq  uint64
}
