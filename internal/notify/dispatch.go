package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
)

// EmailSender delivers one HTML email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// TelegramSender delivers one Markdown message to a chat.
type TelegramSender interface {
	Send(ctx context.Context, chatID, markdownText string) error
}

const (
	defaultBatchSize   = 50
	defaultSendTimeout = 30 * time.Second
)

// DispatcherConfig tunes a dispatch run.
type DispatcherConfig struct {
	BatchSize   int
	MaxRetries  int // 0 retries forever
	SendTimeout time.Duration
}

// Stats summarizes one dispatch run.
type Stats struct {
	Processed    int
	EmailSent    int
	TelegramSent int
	Skipped      int
	Failed       int
}

// Dispatcher drains pending notifications to the external channels. A nil
// sender means the channel is not configured; pending deliveries on it
// are marked satisfied.
type Dispatcher struct {
	store    store.Store
	email    EmailSender
	telegram TelegramSender
	cfg      DispatcherConfig
	opts     options
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	s store.Store,
	email EmailSender,
	telegram TelegramSender,
	cfg DispatcherConfig,
	opts ...Option,
) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Dispatcher{
		store:    s,
		email:    email,
		telegram: telegram,
		cfg:      cfg,
		opts:     o,
	}
}

// Name identifies the dispatcher as a background routine.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Run performs one dispatch pass.
func (d *Dispatcher) Run(ctx context.Context) error {
	stats, err := d.Dispatch(ctx)
	if err != nil {
		return err
	}
	if stats.Processed > 0 {
		d.opts.logger.Info("dispatch finished",
			zap.Int("processed", stats.Processed),
			zap.Int("email_sent", stats.EmailSent),
			zap.Int("telegram_sent", stats.TelegramSent),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
	}
	return nil
}

// Dispatch processes one batch of pending notifications. Delivery
// failures are recorded on the notification row and do not fail the run;
// store errors do.
func (d *Dispatcher) Dispatch(ctx context.Context) (Stats, error) {
	var stats Stats

	now := d.opts.now()
	pending, err := d.store.GetPendingDeliveries(ctx, now, d.cfg.BatchSize, d.cfg.MaxRetries)
	if err != nil {
		return stats, fmt.Errorf("loading pending deliveries: %w", err)
	}

	users := make(map[string]*model.User)
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n := &pending[i]

		user, ok := users[n.UserID]
		if !ok {
			user, err = d.store.GetUser(ctx, n.UserID)
			if err != nil && !model.IsNotFound(err) {
				return stats, fmt.Errorf("loading recipient %s: %w", n.UserID, err)
			}
			users[n.UserID] = user
		}

		if err := d.deliver(ctx, n, user, &stats); err != nil {
			return stats, err
		}
		stats.Processed++
	}
	return stats, nil
}

// deliver attempts each outstanding channel of n. user is nil when the
// recipient no longer exists.
func (d *Dispatcher) deliver(
	ctx context.Context,
	n *model.Notification,
	user *model.User,
	stats *Stats,
) error {
	log := d.opts.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
	)
	var failures []error

	if n.Channel.IncludesEmail() && !n.EmailSent {
		failed := false
		switch {
		case d.email == nil || user == nil || user.Email == "" || !user.EmailEnabled:
			stats.Skipped++
		default:
			err := d.send(ctx, func(ctx context.Context) error {
				return d.email.Send(ctx, user.Email, n.Title, emailBody(n))
			})
			if err != nil {
				failures = append(failures, &model.DeliveryError{Channel: model.ChannelEmail, Err: err})
				failed = true
				break
			}
			stats.EmailSent++
		}
		if !failed {
			if err := d.store.MarkEmailSent(ctx, n.ID, d.opts.now()); err != nil {
				return err
			}
		}
	}

	if n.Channel.IncludesTelegram() && !n.TelegramSent {
		failed := false
		switch {
		case d.telegram == nil || user == nil || user.TelegramChatID == nil ||
			*user.TelegramChatID == "" || !user.TelegramEnabled:
			stats.Skipped++
		default:
			chatID := *user.TelegramChatID
			err := d.send(ctx, func(ctx context.Context) error {
				return d.telegram.Send(ctx, chatID, telegramText(n))
			})
			if err != nil {
				failures = append(failures, &model.DeliveryError{Channel: model.ChannelTelegram, Err: err})
				failed = true
				break
			}
			stats.TelegramSent++
		}
		if !failed {
			if err := d.store.MarkTelegramSent(ctx, n.ID, d.opts.now()); err != nil {
				return err
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}

	stats.Failed++
	joined := errors.Join(failures...)
	log.Warn("delivery failed",
		zap.Int("retry_count", n.RetryCount+1),
		zap.Error(joined),
	)
	return d.store.RecordDeliveryFailure(ctx, n.ID, joined.Error())
}

// send runs fn with the per-call timeout. The call is abandoned once the
// timeout fires even if fn ignores its context.
func (d *Dispatcher) send(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send timed out after %s: %w", d.cfg.SendTimeout, ctx.Err())
	}
}

func emailBody(n *model.Notification) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h3>" + html.EscapeString(n.Title) + "</h3>")
	for _, line := range strings.Split(n.Message, "\n") {
		b.WriteString("<p>" + html.EscapeString(line) + "</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"`", "\\`",
)

func telegramText(n *model.Notification) string {
	return "*" + markdownEscaper.Replace(n.Title) + "*\n\n" + markdownEscaper.Replace(n.Message)
}
