package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const milestoneColumns = `id, contract_id, title, due_date, status, updated_at`

func (s *SQLiteStore) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = model.MilestonePending
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO milestones (`+milestoneColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ContractID, m.Title, utc(m.DueDate), string(m.Status), utc(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating milestone: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	var m model.Milestone
	if err := s.get(ctx, &m, "milestone", id,
		"SELECT "+milestoneColumns+" FROM milestones WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetOverdueMilestones returns milestones past their due date that are not
// completed. Milestones already flagged overdue are included.
func (s *SQLiteStore) GetOverdueMilestones(ctx context.Context, now time.Time) ([]model.Milestone, error) {
	var milestones []model.Milestone
	err := sqlx.SelectContext(ctx, s.q, &milestones, `
		SELECT `+milestoneColumns+` FROM milestones
		WHERE due_date < ? AND status != ?
		ORDER BY due_date, id`,
		utc(now), string(model.MilestoneCompleted))
	if err != nil {
		return nil, fmt.Errorf("querying overdue milestones: %w", err)
	}
	return milestones, nil
}

// MarkMilestoneOverdue flags a milestone overdue unless it already is or
// has been completed.
func (s *SQLiteStore) MarkMilestoneOverdue(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := swapped(s.q.ExecContext(ctx, `
		UPDATE milestones SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(model.MilestoneOverdue), utc(at), id,
		string(model.MilestoneOverdue), string(model.MilestoneCompleted),
	))
	if err != nil {
		return false, fmt.Errorf("marking milestone %s overdue: %w", id, err)
	}
	return ok, nil
}
