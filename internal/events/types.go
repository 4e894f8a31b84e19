// Package events names the subjects the task manager publishes and picks
// the bus implementation they travel on.
package events

// Task lifecycle subjects. Event data carries task_id, user_id, tool and
// status; terminal states add success and duration_ms.
const (
	TaskCreated      = "task.created"
	TaskStateChanged = "task.state_changed"
	TaskCancelled    = "task.cancelled"
	TaskEvicted      = "task.evicted"
	TaskPurged       = "task.purged"
)

// TaskWildcard matches every task subject.
const TaskWildcard = "task.>"
