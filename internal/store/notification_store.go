package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/signoff/internal/model"
)

const notificationColumns = `id, user_id, title, message, type, priority, channel,
	reference_type, reference_id, dedup_key, is_read,
	email_sent, email_sent_at, telegram_sent, telegram_sent_at,
	retry_count, last_error, scheduled_at, created_at`

// CreateNotification inserts a notification. A duplicate dedup key is an
// error here; use CreateNotificationIfAbsent for idempotent inserts.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if _, err := s.insertNotification(ctx, n, ""); err != nil {
		return fmt.Errorf("creating notification for user %s: %w", n.UserID, err)
	}
	return nil
}

// CreateNotificationIfAbsent inserts n unless a notification with the same
// dedup key already exists. Returns whether a row was written.
func (s *SQLiteStore) CreateNotificationIfAbsent(
	ctx context.Context,
	n *model.Notification,
) (bool, error) {
	ok, err := s.insertNotification(ctx, n, " ON CONFLICT(dedup_key) DO NOTHING")
	if err != nil {
		return false, fmt.Errorf("creating notification for user %s: %w", n.UserID, err)
	}
	return ok, nil
}

func (s *SQLiteStore) insertNotification(
	ctx context.Context,
	n *model.Notification,
	conflict string,
) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = model.NotificationNormal
	}
	if n.Channel == "" {
		n.Channel = model.ChannelAll
	}
	return swapped(s.q.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type), string(n.Priority), string(n.Channel),
		n.ReferenceType, n.ReferenceID, n.DedupKey, boolToInt(n.Read),
		boolToInt(n.EmailSent), utcPtr(n.EmailSentAt),
		boolToInt(n.TelegramSent), utcPtr(n.TelegramSentAt),
		n.RetryCount, n.LastError, utcPtr(n.ScheduledAt), utc(n.CreatedAt),
	))
}

// GetNotification retrieves a notification by ID.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	if err := s.get(ctx, &n, "notification", id,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNotifications lists a user's inbox, newest first.
func (s *SQLiteStore) GetNotifications(
	ctx context.Context,
	filter NotificationFilter,
) ([]model.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = ?"
	args := []interface{}{filter.UserID}
	if filter.UnreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var notifications []model.Notification
	if err := sqlx.SelectContext(ctx, s.q, &notifications, query, args...); err != nil {
		return nil, fmt.Errorf("querying notifications for user %s: %w", filter.UserID, err)
	}
	return notifications, nil
}

// GetPendingDeliveries returns notifications that still owe an email or
// Telegram delivery and are due at now, oldest first. A maxRetries of 0
// disables the retry ceiling.
func (s *SQLiteStore) GetPendingDeliveries(
	ctx context.Context,
	now time.Time,
	limit, maxRetries int,
) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []model.Notification
	err := sqlx.SelectContext(ctx, s.q, &notifications, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE (
			(channel IN (?, ?) AND email_sent = 0)
			OR (channel IN (?, ?) AND telegram_sent = 0)
		)
		AND (scheduled_at IS NULL OR scheduled_at <= ?)
		AND (? = 0 OR retry_count < ?)
		ORDER BY created_at, rowid
		LIMIT ?`,
		string(model.ChannelEmail), string(model.ChannelAll),
		string(model.ChannelTelegram), string(model.ChannelAll),
		utc(now), maxRetries, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending deliveries: %w", err)
	}
	return notifications, nil
}

// MarkEmailSent records a completed (or intentionally skipped) email delivery.
func (s *SQLiteStore) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	return s.markSent(ctx, id, "email_sent", "email_sent_at", at)
}

// MarkTelegramSent records a completed (or intentionally skipped) Telegram delivery.
func (s *SQLiteStore) MarkTelegramSent(ctx context.Context, id string, at time.Time) error {
	return s.markSent(ctx, id, "telegram_sent", "telegram_sent_at", at)
}

func (s *SQLiteStore) markSent(ctx context.Context, id, flag, stamp string, at time.Time) error {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE notifications SET "+flag+" = 1, "+stamp+" = ? WHERE id = ?",
		utc(at), id))
	if err != nil {
		return fmt.Errorf("marking %s on notification %s: %w", flag, id, err)
	}
	if !ok {
		return model.NotFoundError("notification", id)
	}
	return nil
}

// RecordDeliveryFailure bumps the retry counter and keeps the last error.
func (s *SQLiteStore) RecordDeliveryFailure(ctx context.Context, id string, lastError string) error {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE notifications SET retry_count = retry_count + 1, last_error = ? WHERE id = ?",
		lastError, id))
	if err != nil {
		return fmt.Errorf("recording delivery failure on notification %s: %w", id, err)
	}
	if !ok {
		return model.NotFoundError("notification", id)
	}
	return nil
}

// MarkNotificationRead marks a notification read in the inbox.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	ok, err := swapped(s.q.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id))
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	if !ok {
		return model.NotFoundError("notification", id)
	}
	return nil
}
