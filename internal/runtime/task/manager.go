package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
	"github.com/dachongbaba/openbotgate/internal/events"
	"github.com/dachongbaba/openbotgate/internal/events/bus"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

const eventSource = "task-manager"

type entry struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

// Manager owns every Task. Each task carries a cancellable context that is
// handed to the tool run, so cancelling a task also terminates its process.
type Manager struct {
	runner          Runner
	eventBus        bus.EventBus
	logger          *logger.Logger
	maxPerUser      int
	timeout         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu        sync.Mutex
	tasks     map[string]*entry
	userTasks map[string][]string // insertion order, oldest first

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a task manager. eventBus may be nil.
func NewManager(cfg config.TasksConfig, runner Runner, eventBus bus.EventBus, log *logger.Logger) *Manager {
	maxPerUser := cfg.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	interval := cfg.CleanupIntervalDuration()
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		runner:          runner,
		eventBus:        eventBus,
		logger:          log.WithFields(zap.String("component", "task-manager")),
		maxPerUser:      maxPerUser,
		timeout:         timeout,
		cleanupInterval: interval,
		now:             time.Now,
		tasks:           make(map[string]*entry),
		userTasks:       make(map[string][]string),
		stopCh:          make(chan struct{}),
	}
}

// Start runs the periodic cleanup loop until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}

// Stop ends the cleanup loop and cancels every unfinished task.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	var changed []Task
	for _, e := range m.tasks {
		if m.failLocked(e, CancelledMessage) {
			changed = append(changed, e.task)
		}
	}
	m.mu.Unlock()

	for _, t := range changed {
		m.publish(events.TaskCancelled, t)
	}
}

// CreateTask registers a pending task. When the user already holds the
// maximum number of tracked tasks, the oldest is cancelled and untracked.
func (m *Manager) CreateTask(userID, command, tool string) *Task {
	now := m.now()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		task: Task{
			ID:        uuid.New().String(),
			UserID:    userID,
			Command:   command,
			Tool:      tool,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	id := e.task.ID

	m.mu.Lock()
	var evicted []Task
	ids := m.userTasks[userID]
	for len(ids) >= m.maxPerUser {
		oldest := m.tasks[ids[0]]
		ids = ids[1:]
		if oldest != nil {
			m.failLocked(oldest, CancelledMessage)
			evicted = append(evicted, oldest.task)
		}
	}
	m.userTasks[userID] = append(ids, id)
	m.tasks[id] = e
	e.timer = time.AfterFunc(m.timeout, func() { m.expire(id) })
	created := e.task
	m.mu.Unlock()

	for _, t := range evicted {
		m.logger.Info("evicted oldest task",
			zap.String("task_id", t.ID),
			zap.String("user_id", userID))
		m.publish(events.TaskEvicted, t)
	}
	m.logger.Debug("task created",
		zap.String("task_id", id),
		zap.String("user_id", userID),
		zap.String("tool", tool))
	m.publish(events.TaskCreated, created)

	return &created
}

// ExecuteTask runs a pending task and records its result. It returns nil for
// unknown ids. A task cancelled while running reports the cancellation
// result; the late tool result is discarded.
func (m *Manager) ExecuteTask(ctx context.Context, taskID string, opts tools.RunOptions) *tools.ToolResult {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.task.Status != StatusPending {
		res := m.resultLocked(e)
		m.mu.Unlock()
		return res
	}
	e.task.Status = StatusRunning
	e.task.UpdatedAt = m.now()
	running := e.task
	taskCtx, tool, command := e.ctx, e.task.Tool, e.task.Command
	m.mu.Unlock()

	m.publish(events.TaskStateChanged, running)
	log := m.logger.WithTaskID(taskID).WithTool(tool)
	log.Debug("executing task", zap.String("command", stringutil.TruncateStringWithEllipsis(command, 50)))

	stop := context.AfterFunc(ctx, e.cancel)
	result := m.runner.RunTool(taskCtx, tool, command, opts)
	stop()

	m.mu.Lock()
	if e.task.Status.IsTerminal() {
		res := m.resultLocked(e)
		m.mu.Unlock()
		log.Debug("discarding late result", zap.Bool("success", result.Success))
		return res
	}
	e.task.Result = result
	e.task.Status = StatusFailed
	if result.Success {
		e.task.Status = StatusCompleted
	}
	e.task.UpdatedAt = m.now()
	e.timer.Stop()
	e.cancel()
	finished := e.task
	m.mu.Unlock()

	if result.Success {
		log.Debug("task completed", zap.Duration("duration", result.Duration))
	} else {
		log.Error("task failed", zap.Duration("duration", result.Duration), zap.String("error", result.Error))
	}
	m.publish(events.TaskStateChanged, finished)

	return copyResult(result)
}

// CancelTask fails a pending or running task and terminates its process.
// It reports whether the task was cancelled: false for unknown ids and for
// tasks that had already finished, which are left untouched.
func (m *Manager) CancelTask(taskID string) bool {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	changed := m.failLocked(e, CancelledMessage)
	t := e.task
	m.mu.Unlock()

	if changed {
		m.logger.Info("task cancelled", zap.String("task_id", taskID))
		m.publish(events.TaskCancelled, t)
	}
	return changed
}

// GetTask returns a snapshot of the task.
func (m *Manager) GetTask(taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	t := snapshot(e)
	return &t, nil
}

// GetUserTasks returns the user's tracked tasks, newest first.
func (m *Manager) GetUserTasks(userID string) []*Task {
	m.mu.Lock()
	ids := m.userTasks[userID]
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.tasks[id]; ok {
			t := snapshot(e)
			out = append(out, &t)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cleanup purges tasks not updated within the task timeout window.
func (m *Manager) Cleanup() int {
	cutoff := m.now().Add(-m.timeout)

	m.mu.Lock()
	var purged []Task
	for id, e := range m.tasks {
		if !e.task.UpdatedAt.Before(cutoff) {
			continue
		}
		m.failLocked(e, TimedOutMessage)
		delete(m.tasks, id)
		m.untrackLocked(e.task.UserID, id)
		purged = append(purged, e.task)
	}
	m.mu.Unlock()

	for _, t := range purged {
		m.publish(events.TaskPurged, t)
	}
	if len(purged) > 0 {
		m.logger.Debug("purged stale tasks", zap.Int("count", len(purged)))
	}
	return len(purged)
}

// expire force-fails a task that outlived the task timeout.
func (m *Manager) expire(taskID string) {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	changed := ok && m.failLocked(e, TimedOutMessage)
	var t Task
	if ok {
		t = e.task
	}
	m.mu.Unlock()

	if changed {
		m.logger.Warn("task timed out", zap.String("task_id", taskID), zap.Duration("timeout", m.timeout))
		m.publish(events.TaskStateChanged, t)
	}
}

// failLocked moves a non-terminal task to failed with message and cancels its
// context. It reports whether the task changed.
func (m *Manager) failLocked(e *entry, message string) bool {
	if e.task.Status.IsTerminal() {
		return false
	}
	now := m.now()
	e.task.Status = StatusFailed
	e.task.Result = &tools.ToolResult{
		Tool:     e.task.Tool,
		Error:    message,
		Duration: now.Sub(e.task.CreatedAt),
	}
	e.task.UpdatedAt = now
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancel()
	return true
}

func (m *Manager) untrackLocked(userID, taskID string) {
	ids := m.userTasks[userID]
	for i, id := range ids {
		if id == taskID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.userTasks, userID)
		return
	}
	m.userTasks[userID] = ids
}

// resultLocked returns the recorded result, or a failure describing why the
// task cannot run again.
func (m *Manager) resultLocked(e *entry) *tools.ToolResult {
	if e.task.Result != nil {
		return copyResult(e.task.Result)
	}
	return &tools.ToolResult{Tool: e.task.Tool, Error: "Task is already running"}
}

func (m *Manager) publish(subject string, t Task) {
	if m.eventBus == nil {
		return
	}
	data := map[string]any{
		"task_id": t.ID,
		"user_id": t.UserID,
		"tool":    t.Tool,
		"status":  string(t.Status),
	}
	if t.Status.IsTerminal() && t.Result != nil {
		data["success"] = t.Result.Success
		data["duration_ms"] = t.Result.Duration.Milliseconds()
	}
	if err := m.eventBus.Publish(context.Background(), subject, bus.NewEvent(eventSource, data)); err != nil {
		m.logger.Warn("failed to publish task event", zap.String("subject", subject), zap.Error(err))
	}
}

func snapshot(e *entry) Task {
	t := e.task
	t.Result = copyResult(e.task.Result)
	return t
}

func copyResult(r *tools.ToolResult) *tools.ToolResult {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
