package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/tasks"
	"github.com/nhle/signoff/tests/testutil"
)

type harness struct {
	store *store.SQLiteStore
	clock *testutil.Clock
	orch  *tasks.Orchestrator
}

func setup(t *testing.T) harness {
	t.Helper()
	s := testutil.NewTestStore(t)
	clock := &testutil.Clock{T: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	testutil.Seed(t, s, clock.T)

	enq := notify.NewEnqueuer(s, notify.WithClock(clock.Now), notify.WithLocation(time.UTC))
	return harness{
		store: s,
		clock: clock,
		orch:  tasks.New(s, enq, tasks.WithClock(clock.Now)),
	}
}

func (h harness) create(t *testing.T, assignee, creator string) *model.Task {
	t.Helper()
	task := &model.Task{
		Title:       "Check site",
		Description: "Walk the site with the contractor",
		AssigneeID:  assignee,
		DueDate:     h.clock.T.AddDate(0, 0, 5),
	}
	require.NoError(t, h.orch.Create(context.Background(), task, creator))
	return task
}

func (h harness) inbox(t *testing.T, userID string) []model.Notification {
	t.Helper()
	list, err := h.store.GetNotifications(context.Background(), store.NotificationFilter{UserID: userID})
	require.NoError(t, err)
	return list
}

func TestCanAssignTo(t *testing.T) {
	user := func(id string, roles ...model.Role) model.User {
		return model.User{ID: id, Roles: roles}
	}
	admin := user("admin", model.RoleAdministrator)
	staff := user("staff", model.RoleStaff)
	accountant := user("acct", model.RoleAccountant)
	contractor := user("contractor", model.RoleContractor)
	otherContractor := user("contractor-2", model.RoleContractor)
	nobody := user("nobody")

	tests := []struct {
		name     string
		assigner model.User
		assignee model.User
		want     bool
	}{
		{"admin to contractor", admin, contractor, true},
		{"admin to role-less user", admin, nobody, true},
		{"staff to contractor", staff, contractor, true},
		{"staff to accountant", staff, accountant, true},
		{"accountant to staff", accountant, staff, true},
		{"staff to admin", staff, admin, false},
		{"contractor to self", contractor, contractor, true},
		{"contractor to other contractor", contractor, otherContractor, false},
		{"contractor to staff", contractor, staff, false},
		{"role-less to self", nobody, nobody, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tasks.CanAssignTo(tt.assigner, tt.assignee))
		})
	}
}

func TestCreate(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		due := h.clock.T.AddDate(0, 0, 1)
		cases := map[string]*model.Task{
			"title":    {AssigneeID: testutil.StaffID, DueDate: due},
			"assignee": {Title: "x", DueDate: due},
			"due date": {Title: "x", AssigneeID: testutil.StaffID},
			"percent":  {Title: "x", AssigneeID: testutil.StaffID, DueDate: due, CompletionPercent: 100},
		}
		for name, task := range cases {
			err := h.orch.Create(ctx, task, testutil.AdminID)
			assert.True(t, model.IsValidation(err), name)
		}
	})

	t.Run("unknown assignee writes nothing", func(t *testing.T) {
		task := &model.Task{Title: "ghost", AssigneeID: "nobody", DueDate: h.clock.T}
		err := h.orch.Create(ctx, task, testutil.AdminID)
		assert.True(t, model.IsNotFound(err))

		all, err := h.store.ListTasks(ctx, store.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("notifies the assignee", func(t *testing.T) {
		task := h.create(t, testutil.StaffID, testutil.AdminID)

		got, err := h.store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusNew, got.Status)
		assert.Equal(t, testutil.AdminID, got.AssignedByID)

		history, err := h.store.GetTaskHistory(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.TaskActionCreated, history[0].Action)

		inbox := h.inbox(t, testutil.StaffID)
		require.Len(t, inbox, 1)
		assert.Equal(t, model.NotificationTaskAssigned, inbox[0].Type)
		assert.Equal(t, "New task: Check site", inbox[0].Title)
	})

	t.Run("self-assigned is silent", func(t *testing.T) {
		h.create(t, testutil.AccountantID, testutil.AccountantID)
		assert.Empty(t, h.inbox(t, testutil.AccountantID))
	})

	t.Run("critical priority is urgent", func(t *testing.T) {
		task := &model.Task{
			Title:      "Escalation",
			AssigneeID: testutil.ContractorID,
			DueDate:    h.clock.T,
			Priority:   model.TaskPriorityCritical,
		}
		require.NoError(t, h.orch.Create(ctx, task, testutil.AdminID))

		inbox := h.inbox(t, testutil.ContractorID)
		require.Len(t, inbox, 1)
		assert.Equal(t, model.NotificationUrgent, inbox[0].Priority)
	})
}

func TestAssign(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.AdminID)

	t.Run("contractor may not delegate", func(t *testing.T) {
		err := h.orch.Assign(ctx, task.ID, testutil.AccountantID, testutil.ContractorID)
		assert.True(t, model.IsUnauthorized(err))
	})

	t.Run("staff delegates to contractor", func(t *testing.T) {
		require.NoError(t, h.orch.Assign(ctx, task.ID, testutil.ContractorID, testutil.StaffID))

		got, err := h.store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, testutil.ContractorID, got.AssigneeID)
		assert.Equal(t, testutil.StaffID, got.AssignedByID)
		assert.Len(t, h.inbox(t, testutil.ContractorID), 1)
	})

	t.Run("same assignee is a no-op", func(t *testing.T) {
		require.NoError(t, h.orch.Assign(ctx, task.ID, testutil.ContractorID, testutil.StaffID))
		history, err := h.store.GetTaskHistory(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("inactive assignee", func(t *testing.T) {
		u := testutil.SeedUser(t, h.store, "u-gone", model.RoleStaff)
		u.Active = false
		require.NoError(t, h.store.UpsertUser(ctx, u))

		err := h.orch.Assign(ctx, task.ID, "u-gone", testutil.AdminID)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("policy lookup", func(t *testing.T) {
		ok, err := h.orch.CanAssignTo(ctx, testutil.ContractorID, testutil.StaffID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = h.orch.CanAssignTo(ctx, "nobody", testutil.StaffID)
		assert.True(t, model.IsNotFound(err))
	})
}

func TestChangeStatus(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.AdminID)

	h.clock.Advance(time.Hour)
	got, err := h.orch.ChangeStatus(ctx, task.ID, model.TaskStatusInProgress, testutil.StaffID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInProgress, got.Status)

	inbox := h.inbox(t, testutil.AdminID)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationTaskStatusChanged, inbox[0].Type)

	got, err = h.orch.ChangeStatus(ctx, task.ID, model.TaskStatusCompleted, testutil.StaffID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.CompletionPercent)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, h.clock.T.Equal(*got.CompletedAt))

	_, err = h.orch.ChangeStatus(ctx, task.ID, model.TaskStatusInProgress, testutil.StaffID)
	assert.True(t, model.IsInvalidTransition(err))

	_, err = h.orch.ChangeStatus(ctx, task.ID, model.TaskStatus("done"), testutil.StaffID)
	assert.True(t, model.IsValidation(err))

	// The assigner changing status does not notify themselves.
	other := h.create(t, testutil.StaffID, testutil.AdminID)
	_, err = h.orch.ChangeStatus(ctx, other.ID, model.TaskStatusCancelled, testutil.AdminID)
	require.NoError(t, err)
	assert.Len(t, h.inbox(t, testutil.AdminID), 2)
}

func TestChangeStatus_CreatorHearsAfterDelegation(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	task := h.create(t, testutil.StaffID, testutil.AdminID)
	require.NoError(t, h.orch.Assign(ctx, task.ID, testutil.ContractorID, testutil.StaffID))

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.AdminID, got.CreatedByID)
	assert.Equal(t, testutil.StaffID, got.AssignedByID)

	staffBefore := len(h.inbox(t, testutil.StaffID))

	_, err = h.orch.ChangeStatus(ctx, task.ID, model.TaskStatusInProgress, testutil.ContractorID)
	require.NoError(t, err)
	assert.Len(t, h.inbox(t, testutil.AdminID), 1)
	assert.Len(t, h.inbox(t, testutil.StaffID), staffBefore+1)

	// The delegator acting only notifies the creator.
	_, err = h.orch.ChangeStatus(ctx, task.ID, model.TaskStatusOnHold, testutil.StaffID)
	require.NoError(t, err)
	assert.Len(t, h.inbox(t, testutil.AdminID), 2)
	assert.Len(t, h.inbox(t, testutil.StaffID), staffBefore+1)
}

func TestCompleteRelatedTasks(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	report := testutil.ReportID
	contract := testutil.ContractID

	linked := func(title string) *model.Task {
		task := &model.Task{
			Title:            title,
			AssigneeID:       testutil.StaffID,
			DueDate:          h.clock.T.AddDate(0, 0, 2),
			ContractID:       &contract,
			ProgressReportID: &report,
		}
		require.NoError(t, h.orch.Create(ctx, task, testutil.AdminID))
		return task
	}
	open := linked("Pay contractor")
	cancelled := linked("Old review")
	_, err := h.orch.ChangeStatus(ctx, cancelled.ID, model.TaskStatusCancelled, testutil.AdminID)
	require.NoError(t, err)
	unrelated := h.create(t, testutil.StaffID, testutil.AdminID)

	_, err = h.orch.CompleteRelatedTasks(ctx, nil, nil, testutil.AdminID)
	assert.True(t, model.IsValidation(err))

	n, err := h.orch.CompleteRelatedTasks(ctx, &contract, &report, testutil.AccountantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.store.GetTask(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)

	got, err = h.store.GetTask(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status)

	got, err = h.store.GetTask(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusNew, got.Status)

	history, err := h.store.GetTaskHistory(ctx, open.ID)
	require.NoError(t, err)
	before := len(history)

	n, err = h.orch.CompleteRelatedTasks(ctx, &contract, &report, testutil.AccountantID)
	require.NoError(t, err)
	assert.Zero(t, n)

	history, err = h.store.GetTaskHistory(ctx, open.ID)
	require.NoError(t, err)
	assert.Len(t, history, before, "a second run writes no history")
}
