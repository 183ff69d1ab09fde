// Package notify queues notifications for users and delivers them over
// email and Telegram.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
)

// Request describes a notification to queue for one user.
type Request struct {
	UserID   string
	Title    string
	Message  string
	Type     model.NotificationType
	Priority model.NotificationPriority
	Channel  model.Channel

	// ReferenceType and ReferenceID name the subject entity. Both are
	// required for EnqueueOnce.
	ReferenceType string
	ReferenceID   string
}

// Option configures an Enqueuer or a Dispatcher.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		now:      time.Now,
		location: time.Local,
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the default timezone for quiet hours and for the
// calendar day used in deduplication.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// Enqueuer writes notification rows. It applies the recipient's quiet
// hours when the row is created, so the dispatcher only has to honor
// scheduled_at.
type Enqueuer struct {
	store store.Store
	opts  options
}

// NewEnqueuer creates an Enqueuer over s.
func NewEnqueuer(s store.Store, opts ...Option) *Enqueuer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Enqueuer{store: s, opts: o}
}

// WithStore returns a copy of the enqueuer bound to s, typically a
// transaction-bound store.
func (e *Enqueuer) WithStore(s store.Store) *Enqueuer {
	cp := *e
	cp.store = s
	return &cp
}

// Enqueue creates a notification unconditionally.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (*model.Notification, error) {
	n, err := e.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	e.logCreated(n)
	return n, nil
}

// EnqueueOnce creates the notification unless one with the same user,
// reference, type and calendar day already exists. It reports whether a
// row was written.
func (e *Enqueuer) EnqueueOnce(ctx context.Context, req Request) (bool, error) {
	if req.ReferenceType == "" || req.ReferenceID == "" {
		return false, &model.ValidationError{
			Field:   "reference",
			Message: "deduplicated notifications need a reference",
		}
	}

	n, err := e.build(ctx, req)
	if err != nil {
		return false, err
	}
	key := model.DedupKey(req.UserID, req.ReferenceType, req.ReferenceID, req.Type,
		n.CreatedAt.In(e.opts.location))
	n.DedupKey = &key

	created, err := e.store.CreateNotificationIfAbsent(ctx, n)
	if err != nil {
		return false, err
	}
	if created {
		e.logCreated(n)
	}
	return created, nil
}

func (e *Enqueuer) build(ctx context.Context, req Request) (*model.Notification, error) {
	if req.UserID == "" {
		return nil, &model.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	user, err := e.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading recipient: %w", err)
	}

	now := e.opts.now()
	n := &model.Notification{
		UserID:    req.UserID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		Priority:  req.Priority,
		Channel:   req.Channel,
		CreatedAt: now,
	}
	if req.ReferenceType != "" {
		refType, refID := req.ReferenceType, req.ReferenceID
		n.ReferenceType = &refType
		n.ReferenceID = &refID
	}
	if until, quiet := user.QuietHoursUntil(now, e.opts.location); quiet {
		n.ScheduledAt = &until
	}
	return n, nil
}

func (e *Enqueuer) logCreated(n *model.Notification) {
	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
	}
	if n.ScheduledAt != nil {
		fields = append(fields, zap.Time("scheduled_at", *n.ScheduledAt))
	}
	e.opts.logger.Debug("notification queued", fields...)
}
