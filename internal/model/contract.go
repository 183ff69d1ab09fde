package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contract is the read-only view of a contract needed for routing and
// payment calculation.
type Contract struct {
	ID             string          `json:"id" db:"id"`
	Number         string          `json:"number" db:"number"`
	ContractorName string          `json:"contractor_name" db:"contractor_name"`
	BaseAmount     decimal.Decimal `json:"base_amount" db:"base_amount"`
	Currency       string          `json:"currency" db:"currency"`

	// CuratorID is the staff member overseeing the contract.
	CuratorID *string `json:"curator_id,omitempty" db:"curator_id"`

	// ProjectManagerID is the designated reviewer of progress reports.
	ProjectManagerID *string `json:"project_manager_id,omitempty" db:"project_manager_id"`
}

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is created once per director-approved progress report.
type Payment struct {
	ID               string          `json:"id" db:"id"`
	ContractID       string          `json:"contract_id" db:"contract_id"`
	ProgressReportID string          `json:"progress_report_id" db:"progress_report_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	Status           PaymentStatus   `json:"status" db:"status"`
	Description      string          `json:"description" db:"description"`
	CreatedByID      string          `json:"created_by_id" db:"created_by_id"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// PaymentAmount computes baseAmount * completedPercent / 100 rounded to
// two decimal places.
func PaymentAmount(baseAmount, completedPercent decimal.Decimal) decimal.Decimal {
	return baseAmount.Mul(completedPercent).Div(decimal.NewFromInt(100)).Round(2)
}

// MilestoneStatus is the progress state of a contract milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneOverdue    MilestoneStatus = "overdue"
)

// Milestone is a scheduled sub-deadline within a contract.
type Milestone struct {
	ID         string          `json:"id" db:"id"`
	ContractID string          `json:"contract_id" db:"contract_id"`
	Title      string          `json:"title" db:"title"`
	DueDate    time.Time       `json:"due_date" db:"due_date"`
	Status     MilestoneStatus `json:"status" db:"status"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
