// Package task tracks one Task per tool invocation and bounds how many a user may hold.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

// ErrTaskNotFound is returned when a task id is unknown or already purged.
var ErrTaskNotFound = errors.New("task not found")

// Messages recorded on tasks the manager terminates itself.
const (
	CancelledMessage = "Task was cancelled"
	TimedOutMessage  = "Task timed out"
)

// Status is a task lifecycle state. It only moves forward:
// pending -> running -> completed | failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one (user, tool, command) invocation.
type Task struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Command   string            `json:"command"`
	Tool      string            `json:"tool"`
	Status    Status            `json:"status"`
	Result    *tools.ToolResult `json:"result,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Runner executes a tool by name. *tools.Registry implements it.
type Runner interface {
	RunTool(ctx context.Context, tool, command string, opts tools.RunOptions) *tools.ToolResult
}
