package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/tests/testutil"
)

const reason = "materials arrive late"

func TestRequestExtension(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.ManagerID)
	later := task.DueDate.AddDate(0, 0, 7)

	t.Run("reason too short", func(t *testing.T) {
		_, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, "  late  ", later)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("only the assignee may ask", func(t *testing.T) {
		_, err := h.orch.RequestExtension(ctx, task.ID, testutil.AccountantID, reason, later)
		assert.True(t, model.IsUnauthorized(err))
	})

	t.Run("date must move forward", func(t *testing.T) {
		for _, due := range []time.Time{task.DueDate, task.DueDate.Add(-time.Hour)} {
			_, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, due)
			assert.True(t, model.IsValidation(err))
		}
		requests, err := h.store.GetExtensionRequests(ctx, task.ID)
		require.NoError(t, err)
		assert.Empty(t, requests)
	})

	t.Run("creates request and notifies assigner", func(t *testing.T) {
		req, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, later)
		require.NoError(t, err)
		assert.Equal(t, model.ExtensionPending, req.Status)
		assert.True(t, task.DueDate.Equal(req.OriginalDueDate))

		inbox := h.inbox(t, testutil.ManagerID)
		require.Len(t, inbox, 1)
		assert.Equal(t, model.NotificationExtensionRequested, inbox[0].Type)
		require.NotNil(t, inbox[0].ReferenceID)
		assert.Equal(t, req.ID, *inbox[0].ReferenceID)
	})

	t.Run("one pending request per task", func(t *testing.T) {
		_, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, later.AddDate(0, 0, 1))
		assert.True(t, model.IsValidation(err))
	})

	t.Run("terminal task", func(t *testing.T) {
		done := h.create(t, testutil.StaffID, testutil.ManagerID)
		_, err := h.orch.ChangeStatus(ctx, done.ID, model.TaskStatusCompleted, testutil.StaffID)
		require.NoError(t, err)

		_, err = h.orch.RequestExtension(ctx, done.ID, testutil.StaffID, reason, later)
		assert.True(t, model.IsInvalidTransition(err))
	})
}

func TestApproveExtension(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.ManagerID)
	requested := time.Date(2024, 3, 22, 17, 30, 0, 0, time.UTC)

	req, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, requested)
	require.NoError(t, err)

	err = h.orch.ApproveExtension(ctx, req.ID, testutil.AccountantID)
	assert.True(t, model.IsUnauthorized(err), "neither assigner nor admin")

	h.clock.Advance(time.Hour)
	require.NoError(t, h.orch.ApproveExtension(ctx, req.ID, testutil.ManagerID))

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, requested.Equal(got.DueDate), "due date %s, want %s", got.DueDate, requested)

	stored, err := h.store.GetExtensionRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionApproved, stored.Status)
	require.NotNil(t, stored.ApprovedByID)
	assert.Equal(t, testutil.ManagerID, *stored.ApprovedByID)

	history, err := h.store.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskActionExtensionApproved, history[len(history)-1].Action)

	inbox := h.inbox(t, testutil.StaffID)
	require.NotEmpty(t, inbox)
	assert.Equal(t, model.NotificationExtensionApproved, inbox[0].Type)

	err = h.orch.ApproveExtension(ctx, req.ID, testutil.ManagerID)
	assert.True(t, model.IsInvalidTransition(err))

	// A resolved request frees the task for a new one.
	_, err = h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, requested.AddDate(0, 0, 3))
	assert.NoError(t, err)
}

func TestRejectExtension(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.ManagerID)

	req, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, task.DueDate.AddDate(0, 0, 7))
	require.NoError(t, err)

	err = h.orch.RejectExtension(ctx, req.ID, testutil.AdminID, " ")
	assert.True(t, model.IsValidation(err))

	require.NoError(t, h.orch.RejectExtension(ctx, req.ID, testutil.AdminID, "deadline is contractual"))

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, task.DueDate.Equal(got.DueDate))

	stored, err := h.store.GetExtensionRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionRejected, stored.Status)
	assert.Equal(t, "deadline is contractual", stored.RejectionReason)

	inbox := h.inbox(t, testutil.StaffID)
	require.NotEmpty(t, inbox)
	assert.Equal(t, model.NotificationExtensionRejected, inbox[0].Type)
	assert.Contains(t, inbox[0].Message, "deadline is contractual")
}

func TestResolveExtension_ClosedTask(t *testing.T) {
	ctx := context.Background()
	for _, status := range []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			h := setup(t)
			task := h.create(t, testutil.StaffID, testutil.ManagerID)
			req, err := h.orch.RequestExtension(ctx, task.ID, testutil.StaffID, reason, task.DueDate.AddDate(0, 0, 7))
			require.NoError(t, err)

			_, err = h.orch.ChangeStatus(ctx, task.ID, status, testutil.ManagerID)
			require.NoError(t, err)

			err = h.orch.ApproveExtension(ctx, req.ID, testutil.ManagerID)
			assert.True(t, model.IsInvalidTransition(err))
			err = h.orch.RejectExtension(ctx, req.ID, testutil.ManagerID, "no longer relevant")
			assert.True(t, model.IsInvalidTransition(err))

			got, err := h.store.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.True(t, task.DueDate.Equal(got.DueDate))
			assert.Equal(t, status, got.Status)

			requests, err := h.store.GetExtensionRequests(ctx, task.ID)
			require.NoError(t, err)
			require.Len(t, requests, 1)
			assert.Equal(t, model.ExtensionPending, requests[0].Status)
		})
	}
}
