package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const userColumns = `id, name, email, telegram_chat_id, active,
	email_enabled, telegram_enabled,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone`

const contractColumns = `id, number, contractor_name, base_amount, currency,
	curator_id, project_manager_id`

// UpsertUser inserts or replaces a user record. Roles are managed
// separately through SetUserRoles.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			telegram_chat_id = excluded.telegram_chat_id,
			active = excluded.active,
			email_enabled = excluded.email_enabled,
			telegram_enabled = excluded.telegram_enabled,
			quiet_hours_enabled = excluded.quiet_hours_enabled,
			quiet_hours_start = excluded.quiet_hours_start,
			quiet_hours_end = excluded.quiet_hours_end,
			timezone = excluded.timezone`,
		u.ID, u.Name, u.Email, u.TelegramChatID, boolToInt(u.Active),
		boolToInt(u.EmailEnabled), boolToInt(u.TelegramEnabled),
		boolToInt(u.QuietHoursEnabled), u.QuietHoursStart, u.QuietHoursEnd, u.Timezone,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser retrieves a user with its roles.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.get(ctx, &u, "user", id,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id); err != nil {
		return nil, err
	}

	roles, err := s.userRoles(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Roles = roles

	return &u, nil
}

// SetUserRoles replaces the full role set of a user.
func (s *SQLiteStore) SetUserRoles(
	ctx context.Context,
	userID string,
	roles []model.Role,
) error {
	return s.InTx(ctx, func(tx Store) error {
		q := tx.(*SQLiteStore).q
		if _, err := q.ExecContext(ctx,
			"DELETE FROM user_roles WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clearing roles for user %s: %w", userID, err)
		}
		for _, role := range roles {
			if _, err := q.ExecContext(ctx,
				"INSERT INTO user_roles (user_id, role) VALUES (?, ?)",
				userID, string(role)); err != nil {
				return fmt.Errorf("adding role %s to user %s: %w", role, userID, err)
			}
		}
		return nil
	})
}

// FirstActiveUserWithRole returns the active user holding role with the
// lowest id, or model.ErrNotFound.
func (s *SQLiteStore) FirstActiveUserWithRole(
	ctx context.Context,
	role model.Role,
) (*model.User, error) {
	var id string
	err := sqlx.GetContext(ctx, s.q, &id, `
		SELECT u.id FROM users u
		INNER JOIN user_roles r ON r.user_id = u.id
		WHERE r.role = ? AND u.active = 1
		ORDER BY u.id
		LIMIT 1`, string(role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("active user with role", string(role))
	}
	if err != nil {
		return nil, fmt.Errorf("finding user with role %s: %w", role, err)
	}
	return s.GetUser(ctx, id)
}

// UpsertContract inserts or replaces a contract record.
func (s *SQLiteStore) UpsertContract(ctx context.Context, c model.Contract) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			contractor_name = excluded.contractor_name,
			base_amount = excluded.base_amount,
			currency = excluded.currency,
			curator_id = excluded.curator_id,
			project_manager_id = excluded.project_manager_id`,
		c.ID, c.Number, c.ContractorName, c.BaseAmount.String(), c.Currency,
		c.CuratorID, c.ProjectManagerID,
	)
	if err != nil {
		return fmt.Errorf("upserting contract %s: %w", c.ID, err)
	}
	return nil
}

// GetContract retrieves a contract by ID.
func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	if err := s.get(ctx, &c, "contract", id,
		"SELECT "+contractColumns+" FROM contracts WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// userRoles loads the role names of a user.
func (s *SQLiteStore) userRoles(ctx context.Context, userID string) ([]model.Role, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, s.q, &names,
		"SELECT role FROM user_roles WHERE user_id = ? ORDER BY role", userID); err != nil {
		return nil, fmt.Errorf("loading roles for user %s: %w", userID, err)
	}

	roles := make([]model.Role, 0, len(names))
	for _, n := range names {
		roles = append(roles, model.Role(n))
	}
	return roles, nil
}
