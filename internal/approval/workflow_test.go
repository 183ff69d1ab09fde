package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/signoff/internal/approval"
	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/tasks"
	"github.com/nhle/signoff/tests/testutil"
)

type harness struct {
	store    *store.SQLiteStore
	clock    *testutil.Clock
	fixture  testutil.Fixture
	workflow *approval.Workflow
}

func setup(t *testing.T, router approval.RoleRouter) harness {
	t.Helper()
	s := testutil.NewTestStore(t)
	clock := &testutil.Clock{T: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	fx := testutil.Seed(t, s, clock.T)

	enq := notify.NewEnqueuer(s, notify.WithClock(clock.Now), notify.WithLocation(time.UTC))
	orch := tasks.New(s, enq, tasks.WithClock(clock.Now))
	var r approval.RoleRouter = &approval.FirstActiveRouter{}
	if router != nil {
		r = router
	}
	return harness{
		store:    s,
		clock:    clock,
		fixture:  fx,
		workflow: approval.NewWorkflow(s, orch, r, approval.WithClock(clock.Now)),
	}
}

func (h harness) reportTasks(t *testing.T) []model.Task {
	t.Helper()
	report := testutil.ReportID
	list, err := h.store.ListTasks(context.Background(), store.TaskFilter{ProgressReportID: &report})
	require.NoError(t, err)
	return list
}

func (h harness) report(t *testing.T) *model.ProgressReport {
	t.Helper()
	r, err := h.store.GetReport(context.Background(), testutil.ReportID)
	require.NoError(t, err)
	return r
}

func TestSubmit(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))

	r := h.report(t)
	assert.Equal(t, model.ReportSubmittedForReview, r.Status)
	require.NotNil(t, r.SubmittedByID)
	assert.Equal(t, testutil.ContractorID, *r.SubmittedByID)

	list := h.reportTasks(t)
	require.Len(t, list, 1)
	task := list[0]
	assert.Equal(t, testutil.ManagerID, task.AssigneeID)
	assert.Equal(t, testutil.ContractorID, task.AssignedByID)
	assert.Equal(t, model.TaskPriorityHigh, task.Priority)
	assert.Contains(t, task.Title, "CN-2024-001")
	assert.Contains(t, task.Description, "Acme Builders")
	assert.Contains(t, task.Description, "40%")
	assert.True(t, h.clock.T.AddDate(0, 0, 3).Equal(task.DueDate))
	require.NotNil(t, task.ContractID)
	assert.Equal(t, testutil.ContractID, *task.ContractID)

	events, err := h.store.GetReportEvents(ctx, testutil.ReportID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ReportDraft, events[0].FromStatus)
	assert.Equal(t, model.ReportSubmittedForReview, events[0].ToStatus)

	err = h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID)
	assert.True(t, model.IsInvalidTransition(err))
	assert.Len(t, h.reportTasks(t), 1)
}

func TestSubmit_WithoutProjectManager(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	c := h.fixture.Contract
	c.ProjectManagerID = nil
	require.NoError(t, h.store.UpsertContract(ctx, c))

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))
	assert.Equal(t, model.ReportSubmittedForReview, h.report(t).Status)
	assert.Empty(t, h.reportTasks(t))
}

func TestFullApprovalChain(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))
	require.NoError(t, h.workflow.ManagerApprove(ctx, testutil.ReportID, testutil.ManagerID, "looks right"))

	r := h.report(t)
	assert.Equal(t, model.ReportManagerApproved, r.Status)
	assert.Equal(t, "looks right", r.ReviewComment)

	list := h.reportTasks(t)
	require.Len(t, list, 2)
	var director *model.Task
	for i := range list {
		if list[i].AssigneeID == testutil.AdminID {
			director = &list[i]
		}
	}
	require.NotNil(t, director, "director task goes to the first active administrator")
	assert.True(t, h.clock.T.AddDate(0, 0, 2).Equal(director.DueDate))

	p, err := h.workflow.DirectorApprove(ctx, testutil.ReportID, testutil.AdminID, "approved")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4000.00").Equal(p.Amount), "amount %s", p.Amount)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, model.PaymentPending, p.Status)

	r = h.report(t)
	assert.Equal(t, model.ReportDirectorApproved, r.Status)
	require.NotNil(t, r.PaymentID)
	assert.Equal(t, p.ID, *r.PaymentID)

	// The first active staff member by id confirms the payment.
	list = h.reportTasks(t)
	require.Len(t, list, 3)
	assert.Equal(t, testutil.CuratorID, list[2].AssigneeID)
	assert.Contains(t, list[2].Description, "4000.00 USD")

	_, err = h.workflow.DirectorApprove(ctx, testutil.ReportID, testutil.AdminID, "again")
	assert.True(t, model.IsInvalidTransition(err))

	payments, err := h.store.GetPaymentsForReport(ctx, testutil.ReportID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	err = h.workflow.Reject(ctx, testutil.ReportID, testutil.AdminID, "too late")
	assert.True(t, model.IsInvalidTransition(err), "approved reports are final")
}

func TestReject(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))

	err := h.workflow.Reject(ctx, testutil.ReportID, testutil.ManagerID, "   ")
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, model.ReportSubmittedForReview, h.report(t).Status)

	require.NoError(t, h.workflow.Reject(ctx, testutil.ReportID, testutil.ManagerID, "photos missing"))

	r := h.report(t)
	assert.Equal(t, model.ReportRejected, r.Status)
	assert.Equal(t, "photos missing", r.RejectionReason)

	list := h.reportTasks(t)
	require.Len(t, list, 2)
	rework := list[1]
	if rework.AssigneeID != testutil.CuratorID {
		rework = list[0]
	}
	assert.Equal(t, testutil.CuratorID, rework.AssigneeID)
	assert.Contains(t, rework.Description, "photos missing")

	// A rejected report can be resubmitted.
	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))
	assert.Equal(t, model.ReportSubmittedForReview, h.report(t).Status)
}

func TestManagerApprove_NoDirectorRollsBack(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))

	admin, err := h.store.GetUser(ctx, testutil.AdminID)
	require.NoError(t, err)
	admin.Active = false
	require.NoError(t, h.store.UpsertUser(ctx, *admin))

	err = h.workflow.ManagerApprove(ctx, testutil.ReportID, testutil.ManagerID, "")
	assert.True(t, model.IsNotFound(err))

	assert.Equal(t, model.ReportSubmittedForReview, h.report(t).Status)
	events, err := h.store.GetReportEvents(ctx, testutil.ReportID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUnknownReport(t *testing.T) {
	h := setup(t, nil)
	err := h.workflow.Submit(context.Background(), "missing", testutil.ContractorID)
	assert.True(t, model.IsNotFound(err))
}

func TestStaticRouter(t *testing.T) {
	r, err := approval.NewRouter(model.RoutingConfig{
		Strategy: "static",
		Static:   map[string]string{"review": testutil.StaffID},
	})
	require.NoError(t, err)
	h := setup(t, r)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))
	list := h.reportTasks(t)
	require.Len(t, list, 1)
	assert.Equal(t, testutil.StaffID, list[0].AssigneeID)

	// Stages without an entry fall back to the default routing.
	require.NoError(t, h.workflow.ManagerApprove(ctx, testutil.ReportID, testutil.StaffID, ""))
	list = h.reportTasks(t)
	require.Len(t, list, 2)
	// Director tasks are due sooner than review tasks.
	assert.Equal(t, testutil.AdminID, list[0].AssigneeID)
}

func TestNewRouter(t *testing.T) {
	s := testutil.NewTestStore(t)

	r, err := approval.NewRouter(model.RoutingConfig{})
	require.NoError(t, err)
	assert.IsType(t, &approval.FirstActiveRouter{}, r)

	_, err = approval.NewRouter(model.RoutingConfig{Strategy: "round_robin"})
	assert.Error(t, err)

	static := &approval.StaticRouter{Users: map[approval.Stage]string{}}
	_, err = static.ResolveApprover(context.Background(), s, approval.StageDirector, model.Contract{})
	assert.True(t, model.IsNotFound(err))
}

// recordingRouter remembers what each resolution was given.
type recordingRouter struct {
	next      approval.RoleRouter
	dirs      []approval.Directory
	contracts []model.Contract
}

func (r *recordingRouter) ResolveApprover(
	ctx context.Context,
	dir approval.Directory,
	stage approval.Stage,
	contract model.Contract,
) (string, error) {
	r.dirs = append(r.dirs, dir)
	r.contracts = append(r.contracts, contract)
	return r.next.ResolveApprover(ctx, dir, stage, contract)
}

func TestDirectorApprove_UsesContractReadInTransaction(t *testing.T) {
	rec := &recordingRouter{next: &approval.FirstActiveRouter{}}
	h := setup(t, rec)
	ctx := context.Background()

	require.NoError(t, h.workflow.Submit(ctx, testutil.ReportID, testutil.ContractorID))
	require.NoError(t, h.workflow.ManagerApprove(ctx, testutil.ReportID, testutil.ManagerID, ""))

	c := h.fixture.Contract
	c.BaseAmount = decimal.NewFromInt(20000)
	require.NoError(t, h.store.UpsertContract(ctx, c))

	p, err := h.workflow.DirectorApprove(ctx, testutil.ReportID, testutil.AdminID, "")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("8000.00").Equal(p.Amount), "amount %s", p.Amount)

	require.Len(t, rec.dirs, 3)
	for _, dir := range rec.dirs {
		assert.NotSame(t, h.store, dir, "routing must read through the transaction")
	}
	assert.True(t, c.BaseAmount.Equal(rec.contracts[2].BaseAmount))
}
