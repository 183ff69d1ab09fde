package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
)

// RequestExtension asks the task's assigner to move its due date to
// newDueDate. Only the assignee may ask, and a task carries at most one
// pending request.
func (o *Orchestrator) RequestExtension(
	ctx context.Context,
	taskID string,
	requesterID string,
	reason string,
	newDueDate time.Time,
) (*model.ExtensionRequest, error) {
	if n := reasonLength(reason); n < model.MinExtensionReasonLength {
		return nil, &model.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("must be at least %d characters, got %d", model.MinExtensionReasonLength, n),
		}
	}

	var req *model.ExtensionRequest
	err := o.inTx(ctx, func(o *Orchestrator) error {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return &model.TransitionError{
				Entity: "task", ID: t.ID, From: string(t.Status), To: "extension requested",
			}
		}
		if t.AssigneeID != requesterID {
			return fmt.Errorf("only the assignee of task %s may request an extension: %w",
				t.ID, model.ErrUnauthorized)
		}
		if !newDueDate.After(t.DueDate) {
			return &model.ValidationError{
				Field:   "requested_due_date",
				Message: "must be after the current due date " + t.DueDate.Format(time.RFC3339),
			}
		}
		pending, err := o.store.HasPendingExtension(ctx, t.ID)
		if err != nil {
			return err
		}
		if pending {
			return &model.ValidationError{
				Field:   "task_id",
				Message: "task already has a pending extension request",
			}
		}

		req = &model.ExtensionRequest{
			TaskID:           t.ID,
			Reason:           strings.TrimSpace(reason),
			OriginalDueDate:  t.DueDate,
			RequestedDueDate: newDueDate,
			Status:           model.ExtensionPending,
			RequestedByID:    requesterID,
			CreatedAt:        o.now(),
		}
		if err := o.store.CreateExtensionRequest(ctx, req); err != nil {
			return err
		}

		if t.AssignedByID == requesterID {
			return nil
		}
		_, err = o.notify.Enqueue(ctx, notify.Request{
			UserID: t.AssignedByID,
			Title:  "Extension requested: " + t.Title,
			Message: fmt.Sprintf("New due date %s requested (currently %s).\nReason: %s",
				newDueDate.Format("2006-01-02"), t.DueDate.Format("2006-01-02"), req.Reason),
			Type:          model.NotificationExtensionRequested,
			Priority:      model.NotificationHigh,
			Channel:       model.ChannelAll,
			ReferenceType: model.ReferenceExtension,
			ReferenceID:   req.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveExtension accepts a pending request and moves the task's due
// date to exactly the requested value. Requests on completed or cancelled
// tasks can no longer be decided.
func (o *Orchestrator) ApproveExtension(ctx context.Context, requestID, deciderID string) error {
	return o.resolveExtension(ctx, requestID, deciderID, model.ExtensionApproved, "")
}

// RejectExtension declines a pending request. The reason is sent to the
// requester.
func (o *Orchestrator) RejectExtension(ctx context.Context, requestID, deciderID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &model.ValidationError{Field: "rejection_reason", Message: "must not be empty"}
	}
	return o.resolveExtension(ctx, requestID, deciderID, model.ExtensionRejected, strings.TrimSpace(reason))
}

func (o *Orchestrator) resolveExtension(
	ctx context.Context,
	requestID string,
	deciderID string,
	to model.ExtensionStatus,
	reason string,
) error {
	return o.inTx(ctx, func(o *Orchestrator) error {
		req, err := o.store.GetExtensionRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Status.CanTransitionTo(to) {
			return &model.TransitionError{
				Entity: "extension request", ID: req.ID, From: string(req.Status), To: string(to),
			}
		}

		t, err := o.store.GetTask(ctx, req.TaskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return &model.TransitionError{
				Entity: "task", ID: t.ID, From: string(t.Status), To: "extension " + string(to),
			}
		}
		if err := o.authorizeDecision(ctx, t, deciderID); err != nil {
			return err
		}

		now := o.now()
		decider := deciderID
		req.Status = to
		req.ApprovedByID = &decider
		req.RejectionReason = reason
		req.ResolvedAt = &now

		ok, err := o.store.ResolveExtensionRequest(ctx, req)
		if err != nil {
			return err
		}
		if !ok {
			return &model.TransitionError{
				Entity: "extension request", ID: req.ID, From: string(model.ExtensionPending), To: string(to),
			}
		}

		history := model.TaskHistory{
			TaskID:    t.ID,
			ActorID:   deciderID,
			OldValue:  t.DueDate.Format(time.RFC3339),
			NewValue:  req.RequestedDueDate.Format(time.RFC3339),
			Comment:   reason,
			CreatedAt: now,
		}
		notice := notify.Request{
			UserID:        req.RequestedByID,
			Channel:       model.ChannelAll,
			ReferenceType: model.ReferenceExtension,
			ReferenceID:   req.ID,
		}

		if to == model.ExtensionApproved {
			if err := o.store.UpdateTaskDueDate(ctx, t.ID, req.RequestedDueDate, now); err != nil {
				return err
			}
			history.Action = model.TaskActionExtensionApproved
			notice.Title = "Extension approved: " + t.Title
			notice.Message = "The task is now due " + req.RequestedDueDate.Format("2006-01-02") + "."
			notice.Type = model.NotificationExtensionApproved
			notice.Priority = model.NotificationNormal
		} else {
			history.Action = model.TaskActionExtensionRejected
			notice.Title = "Extension rejected: " + t.Title
			notice.Message = fmt.Sprintf("The task stays due %s.\nReason: %s",
				t.DueDate.Format("2006-01-02"), reason)
			notice.Type = model.NotificationExtensionRejected
			notice.Priority = model.NotificationHigh
		}

		if err := o.store.AddTaskHistory(ctx, history); err != nil {
			return err
		}
		if _, err := o.notify.Enqueue(ctx, notice); err != nil {
			return err
		}

		o.logger.Info("extension resolved",
			zap.String("request_id", req.ID),
			zap.String("task_id", t.ID),
			zap.String("status", string(to)),
		)
		return nil
	})
}

// authorizeDecision allows the task's assigner or any administrator.
func (o *Orchestrator) authorizeDecision(ctx context.Context, t *model.Task, deciderID string) error {
	if deciderID == t.AssignedByID {
		return nil
	}
	decider, err := o.store.GetUser(ctx, deciderID)
	if err != nil {
		return fmt.Errorf("loading decider: %w", err)
	}
	if decider.HasRole(model.RoleAdministrator) {
		return nil
	}
	return fmt.Errorf("user %s may not decide extensions on task %s: %w",
		deciderID, t.ID, model.ErrUnauthorized)
}
