package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const reportColumns = `id, contract_id, report_date, completed_percent, status,
	submitted_by_id, submitted_at,
	reviewed_by_id, reviewed_at, review_comment,
	approved_by_id, approved_at, approval_comment,
	rejected_by_id, rejected_at, rejection_reason,
	payment_id, created_at, updated_at`

// CreateReport inserts a new progress report in draft state unless a
// status is already set.
func (s *SQLiteStore) CreateReport(ctx context.Context, r *model.ProgressReport) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReportDraft
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO progress_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ContractID, utc(r.ReportDate), r.CompletedPercent.String(), string(r.Status),
		r.SubmittedByID, utcPtr(r.SubmittedAt),
		r.ReviewedByID, utcPtr(r.ReviewedAt), r.ReviewComment,
		r.ApprovedByID, utcPtr(r.ApprovedAt), r.ApprovalComment,
		r.RejectedByID, utcPtr(r.RejectedAt), r.RejectionReason,
		r.PaymentID, utc(r.CreatedAt), utc(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating progress report: %w", err)
	}
	return nil
}

// GetReport retrieves a progress report by ID.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.ProgressReport, error) {
	var r model.ProgressReport
	if err := s.get(ctx, &r, "progress report", id,
		"SELECT "+reportColumns+" FROM progress_reports WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionReport moves a report from tr.From to tr.To and records the
// actor columns of the target stage. Returns false when the report is no
// longer in tr.From.
func (s *SQLiteStore) TransitionReport(ctx context.Context, tr model.ReportTransition) (bool, error) {
	var stage string
	args := []interface{}{string(tr.To), utc(tr.At)}

	switch tr.To {
	case model.ReportSubmittedForReview:
		stage = "submitted_by_id = ?, submitted_at = ?"
		args = append(args, tr.ActorID, utc(tr.At))
	case model.ReportManagerApproved:
		stage = "reviewed_by_id = ?, reviewed_at = ?, review_comment = ?"
		args = append(args, tr.ActorID, utc(tr.At), tr.Comment)
	case model.ReportDirectorApproved:
		stage = "approved_by_id = ?, approved_at = ?, approval_comment = ?"
		args = append(args, tr.ActorID, utc(tr.At), tr.Comment)
	case model.ReportRejected:
		stage = "rejected_by_id = ?, rejected_at = ?, rejection_reason = ?"
		args = append(args, tr.ActorID, utc(tr.At), tr.Comment)
	default:
		return false, &model.TransitionError{
			Entity: "progress report",
			ID:     tr.ReportID,
			From:   string(tr.From),
			To:     string(tr.To),
		}
	}
	args = append(args, tr.ReportID, string(tr.From))

	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE progress_reports SET status = ?, updated_at = ?, "+stage+
			" WHERE id = ? AND status = ?",
		args...,
	))
	if err != nil {
		return false, fmt.Errorf("transitioning report %s to %s: %w", tr.ReportID, tr.To, err)
	}
	return ok, nil
}

// SetReportPayment links a report to the payment created for it.
func (s *SQLiteStore) SetReportPayment(ctx context.Context, reportID, paymentID string) error {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE progress_reports SET payment_id = ? WHERE id = ?", paymentID, reportID))
	if err != nil {
		return fmt.Errorf("linking payment to report %s: %w", reportID, err)
	}
	if !ok {
		return model.NotFoundError("progress report", reportID)
	}
	return nil
}

// AddReportEvent appends an entry to the report's approval trail.
func (s *SQLiteStore) AddReportEvent(ctx context.Context, e model.ReportEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO report_events (id, report_id, from_status, to_status, actor_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReportID, string(e.FromStatus), string(e.ToStatus), e.ActorID, e.Comment,
		utc(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("adding event to report %s: %w", e.ReportID, err)
	}
	return nil
}

// GetReportEvents returns the approval trail of a report, oldest first.
func (s *SQLiteStore) GetReportEvents(ctx context.Context, reportID string) ([]model.ReportEvent, error) {
	var events []model.ReportEvent
	err := sqlx.SelectContext(ctx, s.q, &events, `
		SELECT id, report_id, from_status, to_status, actor_id, comment, created_at
		FROM report_events WHERE report_id = ?
		ORDER BY created_at, rowid`, reportID)
	if err != nil {
		return nil, fmt.Errorf("querying events for report %s: %w", reportID, err)
	}
	return events, nil
}
