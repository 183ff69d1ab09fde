// Package tasks owns the task lifecycle: creation, assignment, status
// changes and due date extensions. Every task in the system is created
// through Orchestrator.Create.
package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
	"github.com/nhle/signoff/internal/store"
)

// Orchestrator implements the task use cases on top of a Store.
type Orchestrator struct {
	store  store.Store
	notify *notify.Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator. Notifications are queued through n.
func New(s store.Store, n *notify.Enqueuer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  s,
		notify: n,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStore returns a copy bound to s. Callers that already hold a
// transaction use it to create tasks inside that transaction.
func (o *Orchestrator) WithStore(s store.Store) *Orchestrator {
	cp := *o
	cp.store = s
	cp.notify = o.notify.WithStore(s)
	return &cp
}

// inTx runs fn with an orchestrator bound to a transaction.
func (o *Orchestrator) inTx(ctx context.Context, fn func(o *Orchestrator) error) error {
	return o.store.InTx(ctx, func(tx store.Store) error {
		return fn(o.WithStore(tx))
	})
}

// Create persists a new task assigned by creatorID and notifies the
// assignee when it is someone else. The task always starts as New.
func (o *Orchestrator) Create(ctx context.Context, t *model.Task, creatorID string) error {
	switch {
	case strings.TrimSpace(t.Title) == "":
		return &model.ValidationError{Field: "title", Message: "must not be empty"}
	case t.AssigneeID == "":
		return &model.ValidationError{Field: "assignee_id", Message: "must not be empty"}
	case creatorID == "":
		return &model.ValidationError{Field: "creator_id", Message: "must not be empty"}
	case t.DueDate.IsZero():
		return &model.ValidationError{Field: "due_date", Message: "must be set"}
	case t.CompletionPercent < 0 || t.CompletionPercent >= 100:
		return &model.ValidationError{Field: "completion_percent", Message: "must be in [0, 100)"}
	}
	if t.Priority == "" {
		t.Priority = model.TaskPriorityNormal
	}

	now := o.now()
	t.Status = model.TaskStatusNew
	t.AssignedByID = creatorID
	t.CreatedByID = creatorID
	t.CompletedAt = nil
	t.CreatedAt = now
	t.UpdatedAt = now

	return o.inTx(ctx, func(o *Orchestrator) error {
		if _, err := o.store.GetUser(ctx, t.AssigneeID); err != nil {
			return fmt.Errorf("loading assignee: %w", err)
		}
		if err := o.store.CreateTask(ctx, t); err != nil {
			return err
		}
		if err := o.store.AddTaskHistory(ctx, model.TaskHistory{
			TaskID:    t.ID,
			Action:    model.TaskActionCreated,
			ActorID:   creatorID,
			NewValue:  t.AssigneeID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if t.AssigneeID != creatorID {
			if err := o.notifyAssigned(ctx, t); err != nil {
				return err
			}
		}

		o.logger.Debug("task created",
			zap.String("task_id", t.ID),
			zap.String("assignee_id", t.AssigneeID),
			zap.String("assigned_by_id", creatorID),
		)
		return nil
	})
}

// Assign hands a task to assigneeID. The assigner must be allowed to
// delegate to the assignee by CanAssignTo.
func (o *Orchestrator) Assign(ctx context.Context, taskID, assigneeID, assignerID string) error {
	return o.inTx(ctx, func(o *Orchestrator) error {
		assigner, err := o.store.GetUser(ctx, assignerID)
		if err != nil {
			return fmt.Errorf("loading assigner: %w", err)
		}
		assignee, err := o.store.GetUser(ctx, assigneeID)
		if err != nil {
			return fmt.Errorf("loading assignee: %w", err)
		}
		if !CanAssignTo(*assigner, *assignee) {
			return fmt.Errorf("user %s may not assign tasks to %s: %w",
				assignerID, assigneeID, model.ErrUnauthorized)
		}
		if !assignee.Active {
			return &model.ValidationError{Field: "assignee_id", Message: "user is inactive"}
		}

		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return &model.TransitionError{
				Entity: "task", ID: t.ID, From: string(t.Status), To: string(t.Status),
			}
		}
		if t.AssigneeID == assigneeID {
			return nil
		}

		now := o.now()
		ok, err := o.store.UpdateTaskAssignee(ctx, t.ID, t.AssigneeID, assigneeID, assignerID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s was reassigned concurrently: %w", t.ID, model.ErrInvalidTransition)
		}
		if err := o.store.AddTaskHistory(ctx, model.TaskHistory{
			TaskID:    t.ID,
			Action:    model.TaskActionReassigned,
			ActorID:   assignerID,
			OldValue:  t.AssigneeID,
			NewValue:  assigneeID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		t.AssigneeID = assigneeID
		t.AssignedByID = assignerID
		if assigneeID != assignerID {
			return o.notifyAssigned(ctx, t)
		}
		return nil
	})
}

// CanAssignTo loads both users and applies the assignment policy.
func (o *Orchestrator) CanAssignTo(ctx context.Context, assignerID, assigneeID string) (bool, error) {
	assigner, err := o.store.GetUser(ctx, assignerID)
	if err != nil {
		return false, err
	}
	assignee, err := o.store.GetUser(ctx, assigneeID)
	if err != nil {
		return false, err
	}
	return CanAssignTo(*assigner, *assignee), nil
}

// CanAssignTo is the delegation policy: administrators may assign to
// anyone, staff and accountants may assign to staff, accountants and
// contractors, and everyone else only to themselves.
func CanAssignTo(assigner, assignee model.User) bool {
	if assigner.ID == assignee.ID {
		return true
	}
	if assigner.HasRole(model.RoleAdministrator) {
		return true
	}
	if assigner.HasRole(model.RoleStaff, model.RoleAccountant) {
		return assignee.HasRole(model.RoleStaff, model.RoleAccountant, model.RoleContractor)
	}
	return false
}

// ChangeStatus moves a task to status and notifies its creator, and its
// last delegator when that is someone else, unless they made the change.
func (o *Orchestrator) ChangeStatus(
	ctx context.Context,
	taskID string,
	status model.TaskStatus,
	actorID string,
) (*model.Task, error) {
	if !status.Valid() {
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	var updated *model.Task
	err := o.inTx(ctx, func(o *Orchestrator) error {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		if err := o.transition(ctx, t, status, actorID, ""); err != nil {
			return err
		}

		for _, userID := range statusWatchers(t, actorID) {
			if _, err := o.notify.Enqueue(ctx, notify.Request{
				UserID:        userID,
				Title:         "Task status changed",
				Message:       fmt.Sprintf("%q moved from %s to %s.", t.Title, from, status),
				Type:          model.NotificationTaskStatusChanged,
				Priority:      model.NotificationNormal,
				Channel:       model.ChannelAll,
				ReferenceType: model.ReferenceTask,
				ReferenceID:   t.ID,
			}); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// statusWatchers returns who hears about a status change: the creator and,
// once the task has been delegated, the last delegator. The actor is left out.
func statusWatchers(t *model.Task, actorID string) []string {
	var ids []string
	for _, id := range []string{t.CreatedByID, t.AssignedByID} {
		if id == "" || id == actorID || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// transition applies a status change with compare-and-swap and records it
// in the task history.
func (o *Orchestrator) transition(
	ctx context.Context,
	t *model.Task,
	to model.TaskStatus,
	actorID string,
	comment string,
) error {
	from := t.Status
	if !from.CanTransitionTo(to) {
		return &model.TransitionError{Entity: "task", ID: t.ID, From: string(from), To: string(to)}
	}

	now := o.now()
	t.Status = to
	t.UpdatedAt = now
	if to == model.TaskStatusCompleted {
		t.CompletionPercent = 100
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}

	ok, err := o.store.UpdateTaskStatus(ctx, t, from)
	if err != nil {
		return err
	}
	if !ok {
		return &model.TransitionError{Entity: "task", ID: t.ID, From: string(from), To: string(to)}
	}

	return o.store.AddTaskHistory(ctx, model.TaskHistory{
		TaskID:    t.ID,
		Action:    model.TaskActionStatusChanged,
		ActorID:   actorID,
		OldValue:  string(from),
		NewValue:  string(to),
		Comment:   comment,
		CreatedAt: now,
	})
}

// CompleteRelatedTasks completes every open task linked to reportID, or to
// contractID when reportID is nil. It returns how many tasks changed;
// tasks already completed or cancelled are left alone.
func (o *Orchestrator) CompleteRelatedTasks(
	ctx context.Context,
	contractID, reportID *string,
	actorID string,
) (int, error) {
	filter := store.TaskFilter{Statuses: model.ActiveTaskStatuses}
	switch {
	case reportID != nil:
		filter.ProgressReportID = reportID
	case contractID != nil:
		filter.ContractID = contractID
	default:
		return 0, &model.ValidationError{
			Field:   "contract_id",
			Message: "either a contract or a progress report is required",
		}
	}

	completed := 0
	err := o.inTx(ctx, func(o *Orchestrator) error {
		open, err := o.store.ListTasks(ctx, filter)
		if err != nil {
			return err
		}
		for i := range open {
			err := o.transition(ctx, &open[i], model.TaskStatusCompleted, actorID, "closed automatically")
			if model.IsInvalidTransition(err) {
				continue
			}
			if err != nil {
				return err
			}
			completed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if completed > 0 {
		o.logger.Info("related tasks completed", zap.Int("count", completed))
	}
	return completed, nil
}

func (o *Orchestrator) notifyAssigned(ctx context.Context, t *model.Task) error {
	priority := model.NotificationNormal
	switch t.Priority {
	case model.TaskPriorityCritical:
		priority = model.NotificationUrgent
	case model.TaskPriorityHigh:
		priority = model.NotificationHigh
	}

	_, err := o.notify.Enqueue(ctx, notify.Request{
		UserID:        t.AssigneeID,
		Title:         "New task: " + t.Title,
		Message:       fmt.Sprintf("%s\nDue %s.", t.Description, t.DueDate.Format("2006-01-02")),
		Type:          model.NotificationTaskAssigned,
		Priority:      priority,
		Channel:       model.ChannelAll,
		ReferenceType: model.ReferenceTask,
		ReferenceID:   t.ID,
	})
	return err
}

// reasonLength counts characters, not bytes, of the trimmed reason.
func reasonLength(reason string) int {
	return utf8.RuneCountInString(strings.TrimSpace(reason))
}
