package store

import (
	"context"
	"time"

	"github.com/nhle/signoff/internal/model"
)

// TaskFilter controls filtering for task queries. Zero-valued fields are
// ignored.
type TaskFilter struct {
	Statuses         []model.TaskStatus
	AssigneeID       *string
	ContractID       *string
	ProgressReportID *string
	MilestoneID      *string
	DueFrom          *time.Time // inclusive
	DueBefore        *time.Time // exclusive
	Limit            int
}

// NotificationFilter controls filtering for in-app inbox queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// Store defines the persistence interface for the approval and task
// orchestration core. Every method may run inside a transaction obtained
// from InTx; compare-and-swap methods report whether the row matched.
type Store interface {
	// InTx runs fn against a transaction-bound Store. Calls made on a
	// store that is already transaction-bound reuse that transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// === Directory (users, roles, contracts) ===

	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetUserRoles(ctx context.Context, userID string, roles []model.Role) error
	FirstActiveUserWithRole(ctx context.Context, role model.Role) (*model.User, error)
	UpsertContract(ctx context.Context, c model.Contract) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// === Tasks ===

	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	CountTasksForMilestone(ctx context.Context, milestoneID string) (int, error)
	UpdateTaskStatus(ctx context.Context, t *model.Task, from model.TaskStatus) (bool, error)
	UpdateTaskAssignee(ctx context.Context, id, from, to, assignedBy string, at time.Time) (bool, error)
	UpdateTaskDueDate(ctx context.Context, id string, due time.Time, at time.Time) error
	DeleteTask(ctx context.Context, id string) error
	AddTaskHistory(ctx context.Context, h model.TaskHistory) error
	GetTaskHistory(ctx context.Context, taskID string) ([]model.TaskHistory, error)

	// === Extension requests ===

	CreateExtensionRequest(ctx context.Context, r *model.ExtensionRequest) error
	GetExtensionRequest(ctx context.Context, id string) (*model.ExtensionRequest, error)
	GetExtensionRequests(ctx context.Context, taskID string) ([]model.ExtensionRequest, error)
	HasPendingExtension(ctx context.Context, taskID string) (bool, error)
	ResolveExtensionRequest(ctx context.Context, r *model.ExtensionRequest) (bool, error)

	// === Progress reports ===

	CreateReport(ctx context.Context, r *model.ProgressReport) error
	GetReport(ctx context.Context, id string) (*model.ProgressReport, error)
	TransitionReport(ctx context.Context, tr model.ReportTransition) (bool, error)
	SetReportPayment(ctx context.Context, reportID, paymentID string) error
	AddReportEvent(ctx context.Context, e model.ReportEvent) error
	GetReportEvents(ctx context.Context, reportID string) ([]model.ReportEvent, error)

	// === Payments ===

	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentsForReport(ctx context.Context, reportID string) ([]model.Payment, error)
	MarkPaymentPaid(ctx context.Context, id string, at time.Time) (bool, error)

	// === Milestones ===

	CreateMilestone(ctx context.Context, m *model.Milestone) error
	GetMilestone(ctx context.Context, id string) (*model.Milestone, error)
	GetOverdueMilestones(ctx context.Context, now time.Time) ([]model.Milestone, error)
	MarkMilestoneOverdue(ctx context.Context, id string, at time.Time) (bool, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n *model.Notification) error
	CreateNotificationIfAbsent(ctx context.Context, n *model.Notification) (bool, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	GetPendingDeliveries(ctx context.Context, now time.Time, limit, maxRetries int) ([]model.Notification, error)
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	MarkTelegramSent(ctx context.Context, id string, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, id string, lastError string) error
	MarkNotificationRead(ctx context.Context, id string) error
}
