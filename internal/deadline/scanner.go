// Package deadline finds tasks and contract milestones whose deadlines are
// near or past and raises notifications and escalation tasks for them.
package deadline

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/tasks"
)

const defaultWarningDays = 3

// Result counts what one scan produced.
type Result struct {
	Warnings          int
	OverdueNotices    int
	MilestonesFlagged int
	EscalationTasks   int
}

// Scanner runs the deadline checks. A scan is idempotent within a
// calendar day: notifications are deduplicated per recipient, subject,
// type and day, and a milestone is escalated only while no task
// references it.
type Scanner struct {
	store       store.Store
	notify      *notify.Enqueuer
	tasks       *tasks.Orchestrator
	warningDays int
	location    *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWarningDays sets how many days ahead a deadline counts as approaching.
func WithWarningDays(days int) Option {
	return func(s *Scanner) {
		if days > 0 {
			s.warningDays = days
		}
	}
}

// WithLocation sets the timezone used for calendar-day arithmetic.
func WithLocation(loc *time.Location) Option {
	return func(s *Scanner) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScanner creates a Scanner.
func NewScanner(
	s store.Store,
	enqueuer *notify.Enqueuer,
	orch *tasks.Orchestrator,
	opts ...Option,
) *Scanner {
	sc := &Scanner{
		store:       s,
		notify:      enqueuer,
		tasks:       orch,
		warningDays: defaultWarningDays,
		location:    time.Local,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Name identifies the scanner as a background routine.
func (s *Scanner) Name() string { return "deadline-scanner" }

// Run performs one scan.
func (s *Scanner) Run(ctx context.Context) error {
	res, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	if res != (Result{}) {
		s.logger.Info("deadline scan finished",
			zap.Int("warnings", res.Warnings),
			zap.Int("overdue_notices", res.OverdueNotices),
			zap.Int("milestones_flagged", res.MilestonesFlagged),
			zap.Int("escalation_tasks", res.EscalationTasks),
		)
	}
	return nil
}

// scan holds the transaction-bound collaborators of one run.
type scan struct {
	*Scanner
	tx     store.Store
	notify *notify.Enqueuer
	tasks  *tasks.Orchestrator
	now    time.Time
	res    Result
}

// Scan checks approaching task deadlines, overdue tasks and overdue
// milestones. All writes of a scan commit together.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	var res Result
	err := s.store.InTx(ctx, func(tx store.Store) error {
		sc := &scan{
			Scanner: s,
			tx:      tx,
			notify:  s.notify.WithStore(tx),
			tasks:   s.tasks.WithStore(tx),
			now:     s.now(),
		}
		if err := sc.approaching(ctx); err != nil {
			return fmt.Errorf("checking approaching deadlines: %w", err)
		}
		if err := sc.overdueTasks(ctx); err != nil {
			return fmt.Errorf("checking overdue tasks: %w", err)
		}
		if err := sc.overdueMilestones(ctx); err != nil {
			return fmt.Errorf("checking overdue milestones: %w", err)
		}
		res = sc.res
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (sc *scan) approaching(ctx context.Context) error {
	from := sc.now
	until := sc.now.AddDate(0, 0, sc.warningDays)
	due, err := sc.tx.ListTasks(ctx, store.TaskFilter{
		Statuses:  model.ActiveTaskStatuses,
		DueFrom:   &from,
		DueBefore: &until,
	})
	if err != nil {
		return err
	}

	for _, t := range due {
		days := sc.daysBetween(sc.now, t.DueDate)

		var when string
		switch days {
		case 0:
			when = "is due today"
		case 1:
			when = "is due tomorrow"
		default:
			when = fmt.Sprintf("is due soon, %d days remain", days)
		}
		priority := model.NotificationNormal
		if days == 0 {
			priority = model.NotificationUrgent
		}

		created, err := sc.once(ctx, notify.Request{
			UserID:        t.AssigneeID,
			Title:         "Deadline approaching: " + t.Title,
			Message:       fmt.Sprintf("%q %s (%s).", t.Title, when, t.DueDate.In(sc.location).Format("2006-01-02 15:04")),
			Type:          model.NotificationDeadlineApproaching,
			Priority:      priority,
			Channel:       model.ChannelAll,
			ReferenceType: model.ReferenceTask,
			ReferenceID:   t.ID,
		})
		if err != nil {
			return err
		}
		if created {
			sc.res.Warnings++
		}
	}
	return nil
}

func (sc *scan) overdueTasks(ctx context.Context) error {
	before := sc.now
	overdue, err := sc.tx.ListTasks(ctx, store.TaskFilter{
		Statuses:  model.ActiveTaskStatuses,
		DueBefore: &before,
	})
	if err != nil {
		return err
	}

	for _, t := range overdue {
		days := sc.daysBetween(t.DueDate, sc.now)
		message := fmt.Sprintf("%q was due %s and is %d day(s) overdue.",
			t.Title, t.DueDate.In(sc.location).Format("2006-01-02"), days)

		created, err := sc.once(ctx, notify.Request{
			UserID:        t.AssigneeID,
			Title:         "Task overdue: " + t.Title,
			Message:       message,
			Type:          model.NotificationTaskOverdue,
			Priority:      model.NotificationUrgent,
			Channel:       model.ChannelAll,
			ReferenceType: model.ReferenceTask,
			ReferenceID:   t.ID,
		})
		if err != nil {
			return err
		}
		if created {
			sc.res.OverdueNotices++
		}

		if t.AssignedByID == "" || t.AssignedByID == t.AssigneeID {
			continue
		}
		created, err = sc.once(ctx, notify.Request{
			UserID:        t.AssignedByID,
			Title:         "Task you assigned is overdue: " + t.Title,
			Message:       message,
			Type:          model.NotificationTaskOverdue,
			Priority:      model.NotificationHigh,
			Channel:       model.ChannelEmail,
			ReferenceType: model.ReferenceTask,
			ReferenceID:   t.ID,
		})
		if err != nil {
			return err
		}
		if created {
			sc.res.OverdueNotices++
		}
	}
	return nil
}

func (sc *scan) overdueMilestones(ctx context.Context) error {
	milestones, err := sc.tx.GetOverdueMilestones(ctx, sc.now)
	if err != nil {
		return err
	}

	for _, m := range milestones {
		flipped, err := sc.tx.MarkMilestoneOverdue(ctx, m.ID, sc.now)
		if err != nil {
			return err
		}
		if flipped {
			sc.res.MilestonesFlagged++
		}

		linked, err := sc.tx.CountTasksForMilestone(ctx, m.ID)
		if err != nil {
			return err
		}
		if linked > 0 {
			continue
		}

		contract, err := sc.tx.GetContract(ctx, m.ContractID)
		if err != nil {
			return err
		}
		recipients := escalationRecipients(contract)
		if len(recipients) == 0 {
			sc.logger.Warn("overdue milestone has nobody to escalate to",
				zap.String("milestone_id", m.ID),
				zap.String("contract_id", contract.ID),
			)
			continue
		}

		days := sc.daysBetween(m.DueDate, sc.now)
		for _, userID := range recipients {
			milestoneID, contractID := m.ID, contract.ID
			t := &model.Task{
				Title: fmt.Sprintf("Overdue milestone on contract %s: %s", contract.Number, m.Title),
				Description: fmt.Sprintf(
					"Milestone %q of contract %s (%s) was due %s and is %d day(s) overdue.",
					m.Title, contract.Number, contract.ContractorName,
					m.DueDate.In(sc.location).Format("2006-01-02"), days),
				Priority:    model.TaskPriorityCritical,
				DueDate:     m.DueDate,
				AssigneeID:  userID,
				ContractID:  &contractID,
				MilestoneID: &milestoneID,
			}
			err := sc.tasks.Create(ctx, t, userID)
			if rejected(err) {
				// Create rejects before writing, so the scan can go on.
				sc.logger.Warn("skipping milestone escalation",
					zap.String("milestone_id", m.ID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("escalating milestone %s: %w", m.ID, err)
			}
			sc.res.EscalationTasks++
		}
	}
	return nil
}

// once queues a deduplicated notification. A recipient that no longer
// exists is logged and skipped so one stale task cannot block the scan.
func (sc *scan) once(ctx context.Context, req notify.Request) (bool, error) {
	created, err := sc.notify.EnqueueOnce(ctx, req)
	if model.IsNotFound(err) {
		sc.logger.Warn("skipping notification for unknown user",
			zap.String("user_id", req.UserID),
			zap.String("reference_id", req.ReferenceID),
		)
		return false, nil
	}
	return created, err
}

// rejected reports whether err is a refusal of the input rather than a
// store failure.
func rejected(err error) bool {
	return model.IsValidation(err) || model.IsNotFound(err) || model.IsUnauthorized(err)
}

// escalationRecipients returns the curator and, when different, the
// project manager of a contract.
func escalationRecipients(c *model.Contract) []string {
	var ids []string
	if c.CuratorID != nil && *c.CuratorID != "" {
		ids = append(ids, *c.CuratorID)
	}
	if c.ProjectManagerID != nil && *c.ProjectManagerID != "" &&
		(c.CuratorID == nil || *c.ProjectManagerID != *c.CuratorID) {
		ids = append(ids, *c.ProjectManagerID)
	}
	return ids
}

// daysBetween counts calendar days from a to b in the scanner's timezone.
func (s *Scanner) daysBetween(a, b time.Time) int {
	da := midnight(a.In(s.location))
	db := midnight(b.In(s.location))
	return int(math.Round(db.Sub(da).Hours() / 24))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
