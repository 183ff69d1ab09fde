package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus is the approval state of a progress report.
type ReportStatus string

const (
	ReportDraft              ReportStatus = "draft"
	ReportSubmittedForReview ReportStatus = "submitted_for_review"
	ReportManagerApproved    ReportStatus = "manager_approved"
	ReportDirectorApproved   ReportStatus = "director_approved"
	ReportRejected           ReportStatus = "rejected"
)

// CanTransitionTo reports whether a report in status s may move to next.
// Draft and Rejected are the only states a report can be (re)submitted from.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case ReportDraft, ReportRejected:
		return next == ReportSubmittedForReview
	case ReportSubmittedForReview:
		return next == ReportManagerApproved || next == ReportRejected
	case ReportManagerApproved:
		return next == ReportDirectorApproved || next == ReportRejected
	case ReportDirectorApproved:
		return false
	}
	return false
}

// ProgressReport is a contractor's claim of completed work on a contract
// (an AVR). Once DirectorApproved it is immutable apart from PaymentID.
type ProgressReport struct {
	ID               string          `json:"id" db:"id"`
	ContractID       string          `json:"contract_id" db:"contract_id"`
	ReportDate       time.Time       `json:"report_date" db:"report_date"`
	CompletedPercent decimal.Decimal `json:"completed_percent" db:"completed_percent"`
	Status           ReportStatus    `json:"status" db:"status"`

	SubmittedByID *string    `json:"submitted_by_id,omitempty" db:"submitted_by_id"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`

	ReviewedByID  *string    `json:"reviewed_by_id,omitempty" db:"reviewed_by_id"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewComment string     `json:"review_comment" db:"review_comment"`

	ApprovedByID    *string    `json:"approved_by_id,omitempty" db:"approved_by_id"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	ApprovalComment string     `json:"approval_comment" db:"approval_comment"`

	RejectedByID    *string    `json:"rejected_by_id,omitempty" db:"rejected_by_id"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectionReason string     `json:"rejection_reason" db:"rejection_reason"`

	PaymentID *string   `json:"payment_id,omitempty" db:"payment_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReportTransition describes one approval step applied to a report.
type ReportTransition struct {
	ReportID string
	From     ReportStatus
	To       ReportStatus
	ActorID  string
	// Comment is the reviewer comment, or the reason when To is ReportRejected.
	Comment string
	At      time.Time
}

// ReportEvent is the persisted record of a report transition.
type ReportEvent struct {
	ID         string       `json:"id" db:"id"`
	ReportID   string       `json:"report_id" db:"report_id"`
	FromStatus ReportStatus `json:"from_status" db:"from_status"`
	ToStatus   ReportStatus `json:"to_status" db:"to_status"`
	ActorID    string       `json:"actor_id" db:"actor_id"`
	Comment    string       `json:"comment" db:"comment"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
