package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const taskColumns = `id, title, description, status, priority,
	due_date, start_date, assignee_id, assigned_by_id,
	contract_id, procurement_item_id, project_id, milestone_id, progress_report_id,
	completion_percent, created_at, updated_at, completed_at, created_by_id`

const extensionColumns = `id, task_id, reason, original_due_date, requested_due_date,
	status, requested_by_id, approved_by_id, rejection_reason, created_at, resolved_at`

// CreateTask inserts a new task. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return &model.ValidationError{Field: "title", Message: "must not be empty"}
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.TaskStatusNew
	}
	if t.Priority == "" {
		t.Priority = model.TaskPriorityNormal
	}
	if t.CreatedByID == "" {
		t.CreatedByID = t.AssignedByID
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		utc(t.DueDate), utcPtr(t.StartDate), t.AssigneeID, t.AssignedByID,
		t.ContractID, t.ProcurementItemID, t.ProjectID, t.MilestoneID, t.ProgressReportID,
		t.CompletionPercent, utc(t.CreatedAt), utc(t.UpdatedAt), utcPtr(t.CompletedAt),
		t.CreatedByID,
	)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetTask retrieves a single task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	if err := s.get(ctx, &t, "task", id,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks retrieves tasks matching the filter, ordered by due date.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		conditions = append(conditions,
			"status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.AssigneeID != nil {
		conditions = append(conditions, "assignee_id = ?")
		args = append(args, *filter.AssigneeID)
	}
	if filter.ContractID != nil {
		conditions = append(conditions, "contract_id = ?")
		args = append(args, *filter.ContractID)
	}
	if filter.ProgressReportID != nil {
		conditions = append(conditions, "progress_report_id = ?")
		args = append(args, *filter.ProgressReportID)
	}
	if filter.MilestoneID != nil {
		conditions = append(conditions, "milestone_id = ?")
		args = append(args, *filter.MilestoneID)
	}
	if filter.DueFrom != nil {
		conditions = append(conditions, "due_date >= ?")
		args = append(args, utc(*filter.DueFrom))
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "due_date < ?")
		args = append(args, utc(*filter.DueBefore))
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY due_date ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var tasks []model.Task
	if err := sqlx.SelectContext(ctx, s.q, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return tasks, nil
}

// CountTasksForMilestone returns how many tasks reference a milestone.
func (s *SQLiteStore) CountTasksForMilestone(ctx context.Context, milestoneID string) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, s.q, &count,
		"SELECT COUNT(*) FROM tasks WHERE milestone_id = ?", milestoneID); err != nil {
		return 0, fmt.Errorf("counting tasks for milestone %s: %w", milestoneID, err)
	}
	return count, nil
}

// UpdateTaskStatus writes the status and completion fields of t, but only
// if the stored status still equals from.
func (s *SQLiteStore) UpdateTaskStatus(
	ctx context.Context,
	t *model.Task,
	from model.TaskStatus,
) (bool, error) {
	ok, err := swapped(s.q.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, completion_percent = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(t.Status), t.CompletionPercent, utcPtr(t.CompletedAt), utc(t.UpdatedAt),
		t.ID, string(from),
	))
	if err != nil {
		return false, fmt.Errorf("updating status of task %s: %w", t.ID, err)
	}
	return ok, nil
}

// UpdateTaskAssignee moves a task from one assignee to another if it is
// still assigned to from. assignedBy becomes the task's new assigner.
func (s *SQLiteStore) UpdateTaskAssignee(
	ctx context.Context,
	id, from, to, assignedBy string,
	at time.Time,
) (bool, error) {
	ok, err := swapped(s.q.ExecContext(ctx, `
		UPDATE tasks SET assignee_id = ?, assigned_by_id = ?, updated_at = ?
		WHERE id = ? AND assignee_id = ?`,
		to, assignedBy, utc(at), id, from,
	))
	if err != nil {
		return false, fmt.Errorf("reassigning task %s: %w", id, err)
	}
	return ok, nil
}

// UpdateTaskDueDate sets a new due date on a task.
func (s *SQLiteStore) UpdateTaskDueDate(
	ctx context.Context,
	id string,
	due time.Time,
	at time.Time,
) error {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE tasks SET due_date = ?, updated_at = ? WHERE id = ?",
		utc(due), utc(at), id,
	))
	if err != nil {
		return fmt.Errorf("updating due date of task %s: %w", id, err)
	}
	if !ok {
		return model.NotFoundError("task", id)
	}
	return nil
}

// DeleteTask removes a task by ID. Cascades to history and extension requests.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	ok, err := swapped(s.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id))
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if !ok {
		return model.NotFoundError("task", id)
	}
	return nil
}

// AddTaskHistory appends an audit entry for a task.
func (s *SQLiteStore) AddTaskHistory(ctx context.Context, h model.TaskHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO task_history (
			id, task_id, action, actor_id, old_value, new_value, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TaskID, h.Action, h.ActorID, h.OldValue, h.NewValue, h.Comment,
		utc(h.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("adding history to task %s: %w", h.TaskID, err)
	}
	return nil
}

// GetTaskHistory returns the audit trail of a task, oldest first.
func (s *SQLiteStore) GetTaskHistory(ctx context.Context, taskID string) ([]model.TaskHistory, error) {
	var history []model.TaskHistory
	err := sqlx.SelectContext(ctx, s.q, &history, `
		SELECT id, task_id, action, actor_id, old_value, new_value, comment, created_at
		FROM task_history WHERE task_id = ?
		ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying history for task %s: %w", taskID, err)
	}
	return history, nil
}

// CreateExtensionRequest inserts a new extension request.
func (s *SQLiteStore) CreateExtensionRequest(
	ctx context.Context,
	r *model.ExtensionRequest,
) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ExtensionPending
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO extension_requests (`+extensionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Reason, utc(r.OriginalDueDate), utc(r.RequestedDueDate),
		string(r.Status), r.RequestedByID, r.ApprovedByID, r.RejectionReason,
		utc(r.CreatedAt), utcPtr(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("creating extension request for task %s: %w", r.TaskID, err)
	}
	return nil
}

// GetExtensionRequest retrieves a single extension request by ID.
func (s *SQLiteStore) GetExtensionRequest(
	ctx context.Context,
	id string,
) (*model.ExtensionRequest, error) {
	var r model.ExtensionRequest
	if err := s.get(ctx, &r, "extension request", id,
		"SELECT "+extensionColumns+" FROM extension_requests WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetExtensionRequests lists the extension requests of a task, oldest first.
func (s *SQLiteStore) GetExtensionRequests(
	ctx context.Context,
	taskID string,
) ([]model.ExtensionRequest, error) {
	var requests []model.ExtensionRequest
	err := sqlx.SelectContext(ctx, s.q, &requests,
		"SELECT "+extensionColumns+" FROM extension_requests WHERE task_id = ? ORDER BY created_at, rowid",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("querying extension requests for task %s: %w", taskID, err)
	}
	return requests, nil
}

// HasPendingExtension reports whether a task has an unresolved request.
func (s *SQLiteStore) HasPendingExtension(ctx context.Context, taskID string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, s.q, &count,
		"SELECT COUNT(*) FROM extension_requests WHERE task_id = ? AND status = ?",
		taskID, string(model.ExtensionPending))
	if err != nil {
		return false, fmt.Errorf("checking pending extensions for task %s: %w", taskID, err)
	}
	return count > 0, nil
}

// ResolveExtensionRequest stores the decision on r if it is still pending.
func (s *SQLiteStore) ResolveExtensionRequest(
	ctx context.Context,
	r *model.ExtensionRequest,
) (bool, error) {
	ok, err := swapped(s.q.ExecContext(ctx, `
		UPDATE extension_requests SET
			status = ?, approved_by_id = ?, rejection_reason = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(r.Status), r.ApprovedByID, r.RejectionReason, utcPtr(r.ResolvedAt),
		r.ID, string(model.ExtensionPending),
	))
	if err != nil {
		return false, fmt.Errorf("resolving extension request %s: %w", r.ID, err)
	}
	return ok, nil
}
