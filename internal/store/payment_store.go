package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const paymentColumns = `id, contract_id, progress_report_id, amount, currency,
	status, description, created_by_id, created_at, paid_at`

// CreatePayment inserts a payment. A report can carry at most one payment;
// a second insert for the same report fails on the unique constraint.
func (s *SQLiteStore) CreatePayment(ctx context.Context, p *model.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.ProgressReportID, p.Amount.String(), p.Currency,
		string(p.Status), p.Description, p.CreatedByID, utc(p.CreatedAt), utcPtr(p.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("creating payment for report %s: %w", p.ProgressReportID, err)
	}
	return nil
}

// GetPayment retrieves a payment by ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	if err := s.get(ctx, &p, "payment", id,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentsForReport lists payments created for a report.
func (s *SQLiteStore) GetPaymentsForReport(ctx context.Context, reportID string) ([]model.Payment, error) {
	var payments []model.Payment
	err := sqlx.SelectContext(ctx, s.q, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE progress_report_id = ? ORDER BY created_at",
		reportID)
	if err != nil {
		return nil, fmt.Errorf("querying payments for report %s: %w", reportID, err)
	}
	return payments, nil
}

// MarkPaymentPaid flips a pending payment to paid.
func (s *SQLiteStore) MarkPaymentPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE payments SET status = ?, paid_at = ? WHERE id = ? AND status = ?",
		string(model.PaymentPaid), utc(at), id, string(model.PaymentPending),
	))
	if err != nil {
		return false, fmt.Errorf("marking payment %s paid: %w", id, err)
	}
	return ok, nil
}
