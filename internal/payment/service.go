// Package payment handles the payment side of approved progress reports.
package payment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/tasks"
)

// Service marks payments paid and closes the work that led to them.
type Service struct {
	store  store.Store
	tasks  *tasks.Orchestrator
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service. A nil logger or clock uses the defaults.
func NewService(s store.Store, orch *tasks.Orchestrator, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, tasks: orch, logger: logger, now: now}
}

// MarkPaid flips a pending payment to paid and completes every open task
// of the originating progress report. It returns the number of tasks
// completed.
func (s *Service) MarkPaid(ctx context.Context, paymentID, actorID string) (int, error) {
	var closed int
	err := s.store.InTx(ctx, func(tx store.Store) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}

		ok, err := tx.MarkPaymentPaid(ctx, p.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return &model.TransitionError{
				Entity: "payment",
				ID:     p.ID,
				From:   string(p.Status),
				To:     string(model.PaymentPaid),
			}
		}

		reportID, contractID := p.ProgressReportID, p.ContractID
		closed, err = s.tasks.WithStore(tx).CompleteRelatedTasks(ctx, &contractID, &reportID, actorID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("payment marked paid",
		zap.String("payment_id", paymentID),
		zap.Int("tasks_completed", closed),
	)
	return closed, nil
}
