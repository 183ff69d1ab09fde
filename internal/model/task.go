package model

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusNew         TaskStatus = "new"
	TaskStatusInProgress  TaskStatus = "in_progress"
	TaskStatusOnHold      TaskStatus = "on_hold"
	TaskStatusUnderReview TaskStatus = "under_review"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// ActiveTaskStatuses lists every non-terminal task status.
var ActiveTaskStatuses = []TaskStatus{
	TaskStatusNew,
	TaskStatusInProgress,
	TaskStatusOnHold,
	TaskStatusUnderReview,
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a task may move from s to next.
// Re-entering the current status is never a valid transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case TaskStatusNew:
		switch next {
		case TaskStatusInProgress, TaskStatusOnHold, TaskStatusUnderReview,
			TaskStatusCompleted, TaskStatusCancelled:
			return true
		}
	case TaskStatusInProgress, TaskStatusOnHold, TaskStatusUnderReview:
		switch next {
		case TaskStatusInProgress, TaskStatusOnHold, TaskStatusUnderReview,
			TaskStatusCompleted, TaskStatusCancelled:
			return true
		}
	case TaskStatusCompleted, TaskStatusCancelled:
		return false
	}
	return false
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNew, TaskStatusInProgress, TaskStatusOnHold,
		TaskStatusUnderReview, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority is the urgency of a task.
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Task is a unit of work assigned to a single user.
//
// CompletedAt is set iff Status is TaskStatusCompleted, and
// CompletionPercent is 100 iff Status is TaskStatusCompleted.
type Task struct {
	ID          string       `json:"id" db:"id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description" db:"description"`
	Status      TaskStatus   `json:"status" db:"status"`
	Priority    TaskPriority `json:"priority" db:"priority"`
	DueDate     time.Time    `json:"due_date" db:"due_date"`
	StartDate   *time.Time   `json:"start_date,omitempty" db:"start_date"`

	// AssigneeID is the user expected to do the work.
	AssigneeID string `json:"assignee_id" db:"assignee_id"`

	// AssignedByID is the user who created or last delegated the task.
	AssignedByID string `json:"assigned_by_id" db:"assigned_by_id"`

	// CreatedByID never changes after creation.
	CreatedByID string `json:"created_by_id" db:"created_by_id"`

	// Optional links to the subject of the work.
	ContractID        *string `json:"contract_id,omitempty" db:"contract_id"`
	ProcurementItemID *string `json:"procurement_item_id,omitempty" db:"procurement_item_id"`
	ProjectID         *string `json:"project_id,omitempty" db:"project_id"`
	MilestoneID       *string `json:"milestone_id,omitempty" db:"milestone_id"`
	ProgressReportID  *string `json:"progress_report_id,omitempty" db:"progress_report_id"`

	CompletionPercent int        `json:"completion_percent" db:"completion_percent"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Task history actions.
const (
	TaskActionCreated           = "created"
	TaskActionReassigned        = "reassigned"
	TaskActionStatusChanged     = "status_changed"
	TaskActionExtensionApproved = "extension_approved"
	TaskActionExtensionRejected = "extension_rejected"
)

// TaskHistory is one audit entry for a task.
type TaskHistory struct {
	ID        string    `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	Action    string    `json:"action" db:"action"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	OldValue  string    `json:"old_value" db:"old_value"`
	NewValue  string    `json:"new_value" db:"new_value"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExtensionStatus is the state of a due date extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// CanTransitionTo reports whether an extension request may be resolved to next.
func (s ExtensionStatus) CanTransitionTo(next ExtensionStatus) bool {
	switch s {
	case ExtensionPending:
		return next == ExtensionApproved || next == ExtensionRejected
	case ExtensionApproved, ExtensionRejected:
		return false
	}
	return false
}

// MinExtensionReasonLength is the shortest accepted extension reason.
const MinExtensionReasonLength = 10

// ExtensionRequest asks the assigner of a task to move its due date.
// Its lifecycle is bound to the parent task (CASCADE delete).
type ExtensionRequest struct {
	ID               string          `json:"id" db:"id"`
	TaskID           string          `json:"task_id" db:"task_id"`
	Reason           string          `json:"reason" db:"reason"`
	OriginalDueDate  time.Time       `json:"original_due_date" db:"original_due_date"`
	RequestedDueDate time.Time       `json:"requested_due_date" db:"requested_due_date"`
	Status           ExtensionStatus `json:"status" db:"status"`
	RequestedByID    string          `json:"requested_by_id" db:"requested_by_id"`
	ApprovedByID     *string         `json:"approved_by_id,omitempty" db:"approved_by_id"`
	RejectionReason  string          `json:"rejection_reason" db:"rejection_reason"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}
