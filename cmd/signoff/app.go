package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/approval"
	"github.com/nhle/signoff/internal/credential"
	"github.com/nhle/signoff/internal/deadline"
	"github.com/nhle/signoff/internal/logging"
	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/notify"
	"github.com/nhle/signoff/internal/notify/email"
	"github.com/nhle/signoff/internal/notify/telegram"
	"github.com/nhle/signoff/internal/payment"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/internal/sync"
	"github.com/nhle/signoff/internal/tasks"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg    *model.AppConfig
	loc    *time.Location
	logger *zap.Logger
	store  *store.SQLiteStore

	enqueuer   *notify.Enqueuer
	tasks      *tasks.Orchestrator
	workflow   *approval.Workflow
	payments   *payment.Service
	scanner    *deadline.Scanner
	dispatcher *notify.Dispatcher
	poller     *sync.Poller
}

// newApp loads configuration and wires every service.
func newApp() (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, loc: loc, logger: logger, store: s}

	a.enqueuer = notify.NewEnqueuer(s,
		notify.WithLogger(logger.Named("notify")),
		notify.WithLocation(loc),
	)
	a.tasks = tasks.New(s, a.enqueuer, tasks.WithLogger(logger.Named("tasks")))
	a.payments = payment.NewService(s, a.tasks, logger.Named("payment"), nil)

	router, err := approval.NewRouter(cfg.Routing)
	if err != nil {
		a.close()
		return nil, err
	}
	a.workflow = approval.NewWorkflow(s, a.tasks, router,
		approval.WithLogger(logger.Named("approval")))

	a.scanner = deadline.NewScanner(s, a.enqueuer, a.tasks,
		deadline.WithWarningDays(cfg.Scanner.WarningDays),
		deadline.WithLocation(loc),
		deadline.WithLogger(logger.Named("deadline")),
	)

	emailSender, telegramSender, err := a.senders()
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(s, emailSender, telegramSender,
		notify.DispatcherConfig{
			BatchSize:   cfg.Dispatcher.BatchSize,
			MaxRetries:  cfg.Dispatcher.MaxRetries,
			SendTimeout: time.Duration(cfg.Dispatcher.SendTimeoutSec) * time.Second,
		},
		notify.WithLogger(logger.Named("dispatch")),
	)

	a.poller = sync.New(logger.Named("poller"))
	a.poller.Register(a.scanner, time.Duration(cfg.Scanner.IntervalSec)*time.Second)
	a.poller.Register(a.dispatcher, time.Duration(cfg.Dispatcher.IntervalSec)*time.Second)

	return a, nil
}

// senders builds the configured delivery channels. A disabled channel is
// returned as nil.
func (a *app) senders() (notify.EmailSender, notify.TelegramSender, error) {
	var (
		emailSender    notify.EmailSender
		telegramSender notify.TelegramSender
	)

	if ec := a.cfg.Email; ec.Enabled {
		password := ""
		if ec.Username != "" {
			p, err := credential.Lookup(credential.EnvSMTPPassword, ec.PasswordKey)
			if err != nil {
				return nil, nil, fmt.Errorf("reading SMTP password: %w", err)
			}
			password = p
		}

		opts := []email.SenderOption{email.WithLogger(a.logger.Named("email"))}
		if ec.Archive.Enabled {
			opts = append(opts, email.WithArchiver(email.NewArchiver(
				ec.Archive.Host, ec.Archive.Port, ec.Username, password, ec.Archive.Mailbox)))
		}
		emailSender = email.NewSender(email.Config{
			Host:     ec.Host,
			Port:     ec.Port,
			Username: ec.Username,
			Password: password,
			From:     ec.From,
			TLS:      ec.TLS,
		}, opts...)
	}

	if tc := a.cfg.Telegram; tc.Enabled {
		token, err := credential.Lookup(credential.EnvTelegramToken, tc.TokenKey)
		if err != nil {
			return nil, nil, fmt.Errorf("reading Telegram bot token: %w", err)
		}
		telegramSender = telegram.NewClient(tc.APIURL, token)
	}

	return emailSender, telegramSender, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
