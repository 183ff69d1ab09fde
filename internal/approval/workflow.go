// Package approval drives progress reports through their sign-off chain:
// submission, manager review, director approval or rejection. Each step
// creates the follow-up task for the next person in the chain, and
// director approval also creates the pending payment.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/tasks"
)

// Follow-up task deadlines, counted from the transition instant.
const (
	reviewDueDays   = 3
	directorDueDays = 2
	paymentDueDays  = 5
	reworkDueDays   = 3
)

// Workflow implements the progress report approval use cases.
type Workflow struct {
	store  store.Store
	tasks  *tasks.Orchestrator
	router RoleRouter
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorkflow creates a Workflow. Follow-up tasks go through orch and are
// routed by router.
func NewWorkflow(s store.Store, orch *tasks.Orchestrator, router RoleRouter, opts ...Option) *Workflow {
	w := &Workflow{
		store:  s,
		tasks:  orch,
		router: router,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// step describes one approval transition and its side effect.
type step struct {
	to      model.ReportStatus
	stage   Stage
	actorID string
	comment string
	// optional steps commit without a follow-up task when nobody is
	// routed for the stage.
	optional bool
	effect   func(ctx context.Context, e *effect) error
}

// effect carries the transaction-bound collaborators to a side effect.
type effect struct {
	store    store.Store
	tasks    *tasks.Orchestrator
	report   *model.ProgressReport
	contract *model.Contract
	targetID string
	actorID  string
	comment  string
	now      time.Time
}

// Submit sends a draft or rejected report for review and asks the
// contract's project manager to review it.
func (w *Workflow) Submit(ctx context.Context, reportID, actorID string) error {
	return w.apply(ctx, reportID, step{
		to:       model.ReportSubmittedForReview,
		stage:    StageReview,
		actorID:  actorID,
		optional: true,
		effect: func(ctx context.Context, e *effect) error {
			return e.followUp(ctx, reviewDueDays,
				"Review progress report for contract "+e.contract.Number,
				fmt.Sprintf("Contractor: %s\nCompleted: %s%%\nReport date: %s",
					e.contract.ContractorName,
					e.report.CompletedPercent.String(),
					e.report.ReportDate.Format("2006-01-02")))
		},
	})
}

// ManagerApprove records the manager review and routes the report to the
// director.
func (w *Workflow) ManagerApprove(ctx context.Context, reportID, actorID, comment string) error {
	return w.apply(ctx, reportID, step{
		to:      model.ReportManagerApproved,
		stage:   StageDirector,
		actorID: actorID,
		comment: comment,
		effect: func(ctx context.Context, e *effect) error {
			return e.followUp(ctx, directorDueDays,
				"Approve progress report for contract "+e.contract.Number,
				fmt.Sprintf("Contractor: %s\nCompleted: %s%%\nManager comment: %s",
					e.contract.ContractorName,
					e.report.CompletedPercent.String(),
					e.comment))
		},
	})
}

// DirectorApprove gives final approval, creates the pending payment for
// the approved share of the contract and asks staff to confirm it.
func (w *Workflow) DirectorApprove(
	ctx context.Context,
	reportID, actorID, comment string,
) (*model.Payment, error) {
	var payment *model.Payment
	err := w.apply(ctx, reportID, step{
		to:      model.ReportDirectorApproved,
		stage:   StagePayment,
		actorID: actorID,
		comment: comment,
		effect: func(ctx context.Context, e *effect) error {
			p := &model.Payment{
				ContractID:       e.contract.ID,
				ProgressReportID: e.report.ID,
				Amount:           model.PaymentAmount(e.contract.BaseAmount, e.report.CompletedPercent),
				Currency:         e.contract.Currency,
				Status:           model.PaymentPending,
				Description: fmt.Sprintf("Progress report %s of contract %s (%s%% completed)",
					e.report.ID, e.contract.Number, e.report.CompletedPercent.String()),
				CreatedByID: e.actorID,
				CreatedAt:   e.now,
			}
			if err := e.store.CreatePayment(ctx, p); err != nil {
				return err
			}
			if err := e.store.SetReportPayment(ctx, e.report.ID, p.ID); err != nil {
				return err
			}
			payment = p

			return e.followUp(ctx, paymentDueDays,
				"Confirm payment for contract "+e.contract.Number,
				fmt.Sprintf("Amount: %s %s\nContractor: %s\n%s",
					p.Amount.StringFixed(2), p.Currency, e.contract.ContractorName, p.Description))
		},
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Reject sends the report back to the contract's curator with a
// mandatory reason.
func (w *Workflow) Reject(ctx context.Context, reportID, actorID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &model.ValidationError{Field: "rejection_reason", Message: "must not be empty"}
	}
	return w.apply(ctx, reportID, step{
		to:       model.ReportRejected,
		stage:    StageRework,
		actorID:  actorID,
		comment:  reason,
		optional: true,
		effect: func(ctx context.Context, e *effect) error {
			return e.followUp(ctx, reworkDueDays,
				"Rework rejected progress report for contract "+e.contract.Number,
				fmt.Sprintf("Contractor: %s\nRejection reason: %s",
					e.contract.ContractorName, e.comment))
		},
	})
}

// apply runs one transition. The report and its contract are read, the
// routing target is resolved, and the report is compared-and-swapped and
// given its side effect, all in a single transaction.
func (w *Workflow) apply(ctx context.Context, reportID string, s step) error {
	log := w.logger.With(
		zap.String("report_id", reportID),
		zap.String("to", string(s.to)),
		zap.String("actor_id", s.actorID),
	)

	err := w.store.InTx(ctx, func(tx store.Store) error {
		report, err := tx.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		from := report.Status
		if !from.CanTransitionTo(s.to) {
			return transitionError(report, s.to)
		}
		contract, err := tx.GetContract(ctx, report.ContractID)
		if err != nil {
			return err
		}

		targetID, err := w.router.ResolveApprover(ctx, tx, s.stage, *contract)
		switch {
		case err == nil:
		case s.optional && model.IsNotFound(err):
			log.Warn("no follow-up task created", zap.Error(err))
			targetID = ""
		default:
			return fmt.Errorf("routing %s stage of report %s: %w", s.stage, reportID, err)
		}

		now := w.now()
		ok, err := tx.TransitionReport(ctx, model.ReportTransition{
			ReportID: reportID,
			From:     from,
			To:       s.to,
			ActorID:  s.actorID,
			Comment:  s.comment,
			At:       now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return transitionError(report, s.to)
		}
		if err := tx.AddReportEvent(ctx, model.ReportEvent{
			ReportID:   reportID,
			FromStatus: from,
			ToStatus:   s.to,
			ActorID:    s.actorID,
			Comment:    s.comment,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		report.Status = s.to
		return s.effect(ctx, &effect{
			store:    tx,
			tasks:    w.tasks.WithStore(tx),
			report:   report,
			contract: contract,
			targetID: targetID,
			actorID:  s.actorID,
			comment:  s.comment,
			now:      now,
		})
	})
	if err != nil {
		return err
	}

	log.Info("progress report transitioned")
	return nil
}

// followUp creates the High priority task for the routed user. It does
// nothing when the stage had no target.
func (e *effect) followUp(ctx context.Context, dueDays int, title, description string) error {
	if e.targetID == "" {
		return nil
	}
	contractID, reportID := e.contract.ID, e.report.ID
	return e.tasks.Create(ctx, &model.Task{
		Title:            title,
		Description:      description,
		Priority:         model.TaskPriorityHigh,
		DueDate:          e.now.AddDate(0, 0, dueDays),
		AssigneeID:       e.targetID,
		ContractID:       &contractID,
		ProgressReportID: &reportID,
	}, e.actorID)
}

func transitionError(r *model.ProgressReport, to model.ReportStatus) error {
	return &model.TransitionError{
		Entity: "progress report",
		ID:     r.ID,
		From:   string(r.Status),
		To:     string(to),
	}
}
