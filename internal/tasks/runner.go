package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"purchase_gateway/internal/models"
)

// Runner executes due scheduled tasks and records every attempt
type Runner struct {
	db       *gorm.DB
	registry *Registry
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry) *Runner {
	return &Runner{db: db, registry: registry, now: time.Now}
}

// ProcessDue runs every active task whose due time has passed. It returns how many
// tasks were picked up.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	var pendingTasks []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due asc").
		Find(&pendingTasks).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if len(pendingTasks) == 0 {
		slog.Debug("No pending tasks found")
		return 0, nil
	}
	slog.Info("Found pending tasks", "count", len(pendingTasks))

	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.Execute(ctx, task)
	}
	return len(pendingTasks), nil
}

// Execute runs one task, retrying up to its MaxAttempt, then moves it to its next state
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	slog.Info("Processing task", "task", task.TaskName, "task_id", task.ID)

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		slog.Error("Task handler not found, marking as failure", "task", task.TaskName, "task_id", task.ID)
		now := r.now()
		r.recordHistory(ctx, task, now, 0, "handler_not_found", 1, map[string]interface{}{"error": "Handler not found"})
		r.update(ctx, task, map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt <= 0 {
		maxAttempt = 1
	}

	var startTime time.Time
	succeeded := false
	for attempt := 1; attempt <= maxAttempt && ctx.Err() == nil; attempt++ {
		startTime = r.now()
		result, err := handler(ctx, task)
		runtimeMs := int(time.Since(startTime).Milliseconds())

		if err != nil {
			slog.Warn("Task attempt failed", "task", task.TaskName, "task_id", task.ID, "attempt", attempt, "error", err)
			r.recordHistory(ctx, task, startTime, runtimeMs, "failure", attempt, map[string]interface{}{"error": err.Error()})
			continue
		}

		slog.Info("Task completed successfully", "task", task.TaskName, "task_id", task.ID, "attempt", attempt)
		r.recordHistory(ctx, task, startTime, runtimeMs, "success", attempt, result)
		succeeded = true
		break
	}

	updates := map[string]interface{}{
		"last_run": &startTime,
	}
	switch {
	case !succeeded:
		updates["status"] = models.ScheduledTaskStatusFailure
	case task.TaskType == models.ScheduledTaskTypeRecurring:
		// A due time that does not move forward means the rule has run out
		if nextDue := task.NextDue(r.now()); nextDue.After(task.Due) {
			updates["status"] = models.ScheduledTaskStatusActive
			updates["due"] = nextDue
		} else {
			updates["status"] = models.ScheduledTaskStatusDone
		}
	default:
		updates["status"] = models.ScheduledTaskStatusDone
	}
	r.update(ctx, task, updates)
}

func (r *Runner) recordHistory(ctx context.Context, task models.ScheduledTask, runAt time.Time, runtimeMs int, status string, attempt int, result map[string]interface{}) {
	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&history).Error; err != nil {
		slog.Error("Failed to record task history", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) update(ctx context.Context, task models.ScheduledTask, updates map[string]interface{}) {
	err := r.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.ScheduledTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
	if err != nil {
		slog.Error("Failed to update scheduled task", "task_id", task.ID, "error", err)
	}
}
