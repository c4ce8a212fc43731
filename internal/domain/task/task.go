package task

import (
	"errors"
	"time"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

var ErrNotFound = errors.New("task not found")

type CreateTaskRequest struct {
	Title       string     `json:"title" binding:"required,min=1,max=255"`
	Description *string    `json:"description" binding:"omitempty,max=10000"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

// pointer fields: nil means the field was not supplied and must stay untouched
type UpdateTaskRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=1,max=255"`
	Description *string    `json:"description" binding:"omitempty,max=10000"`
	Priority    *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	Status      *string    `json:"status" binding:"omitempty,oneof=pending in_progress completed"`
	DueDate     *time.Time `json:"due_date"`
}

type ListTasksFilter struct {
	Status   *string
	Priority *string
}

type Summary struct {
	TotalTasks   int64 `json:"total_tasks"`
	Completed    int64 `json:"completed"`
	InProgress   int64 `json:"in_progress"`
	Pending      int64 `json:"pending"`
	HighPriority int64 `json:"high_priority"`
	Overdue      int64 `json:"overdue"`
}
