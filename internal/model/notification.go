package model

import (
	"fmt"
	"time"
)

// NotificationType classifies why a notification was raised.
type NotificationType string

const (
	NotificationTaskAssigned        NotificationType = "task_assigned"
	NotificationTaskStatusChanged   NotificationType = "task_status_changed"
	NotificationDeadlineApproaching NotificationType = "deadline_approaching"
	NotificationTaskOverdue         NotificationType = "task_overdue"
	NotificationExtensionRequested  NotificationType = "extension_requested"
	NotificationExtensionApproved   NotificationType = "extension_approved"
	NotificationExtensionRejected   NotificationType = "extension_rejected"
)

// NotificationPriority controls presentation urgency.
type NotificationPriority string

const (
	NotificationLow    NotificationPriority = "low"
	NotificationNormal NotificationPriority = "normal"
	NotificationHigh   NotificationPriority = "high"
	NotificationUrgent NotificationPriority = "urgent"
)

// Channel selects where a notification is delivered. In-app delivery is
// implicit: every notification row is readable by the UI.
type Channel string

const (
	ChannelInApp    Channel = "in_app"
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelAll      Channel = "all"
)

// IncludesEmail reports whether the channel set requires email delivery.
func (c Channel) IncludesEmail() bool {
	return c == ChannelEmail || c == ChannelAll
}

// IncludesTelegram reports whether the channel set requires Telegram delivery.
func (c Channel) IncludesTelegram() bool {
	return c == ChannelTelegram || c == ChannelAll
}

// Reference types used for notification deduplication.
const (
	ReferenceTask      = "task"
	ReferenceExtension = "extension_request"
	ReferenceMilestone = "milestone"
)

// Notification is a message queued for a user, tracked per delivery channel.
type Notification struct {
	ID       string               `json:"id" db:"id"`
	UserID   string               `json:"user_id" db:"user_id"`
	Title    string               `json:"title" db:"title"`
	Message  string               `json:"message" db:"message"`
	Type     NotificationType     `json:"type" db:"type"`
	Priority NotificationPriority `json:"priority" db:"priority"`
	Channel  Channel              `json:"channel" db:"channel"`

	ReferenceType *string `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *string `json:"reference_id,omitempty" db:"reference_id"`

	// DedupKey is set only for notifications that must be created at most
	// once per (user, reference, type, day). See DedupKey.
	DedupKey *string `json:"-" db:"dedup_key"`

	Read bool `json:"read" db:"is_read"`

	EmailSent      bool       `json:"email_sent" db:"email_sent"`
	EmailSentAt    *time.Time `json:"email_sent_at,omitempty" db:"email_sent_at"`
	TelegramSent   bool       `json:"telegram_sent" db:"telegram_sent"`
	TelegramSentAt *time.Time `json:"telegram_sent_at,omitempty" db:"telegram_sent_at"`
	RetryCount     int        `json:"retry_count" db:"retry_count"`
	LastError      string     `json:"last_error" db:"last_error"`

	// ScheduledAt defers external delivery, e.g. until quiet hours end.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// DedupKey builds the idempotency key for a notification about a
// reference on a given calendar day (already in the desired location).
func DedupKey(
	userID string,
	referenceType string,
	referenceID string,
	typ NotificationType,
	day time.Time,
) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		userID, referenceType, referenceID, typ, day.Format("2006-01-02"))
}
