package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/signoff/internal/credential"
	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
)

// withApp wires the services, runs fn and tears everything down.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the deadline scanner and notification dispatcher until interrupted",
		Long: `serve runs the deadline scanner and the notification dispatcher on their
configured intervals. SIGHUP triggers an immediate run of both and logs
each routine's status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.logger.Info("starting background routines",
					zap.Int("scanner_interval_sec", a.cfg.Scanner.IntervalSec),
					zap.Int("dispatcher_interval_sec", a.cfg.Dispatcher.IntervalSec),
				)
				a.poller.Start(ctx)

				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)

				for {
					select {
					case <-hup:
						for _, st := range a.poller.Statuses() {
							a.poller.RunNow(st.Name)
						}
						logStatuses(a)
					case <-ctx.Done():
						a.logger.Info("shutting down")
						a.poller.Stop()
						logStatuses(a)
						return nil
					}
				}
			})
		},
	}
}

// logStatuses writes one line per background routine.
func logStatuses(a *app) {
	for _, st := range a.poller.Statuses() {
		fields := []zap.Field{
			zap.String("routine", st.Name),
			zap.Stringer("state", st.State),
			zap.Int("runs", st.Runs),
			zap.Time("last_success", st.LastSuccess),
		}
		if st.Error != nil {
			fields = append(fields, zap.NamedError("last_error", st.Error))
		}
		a.logger.Info("routine status", fields...)
	}
}

// runRoutine runs one registered routine through the poller, so a manual
// run never overlaps a scheduled one, and prints its outcome.
func runRoutine(ctx context.Context, a *app, name string) error {
	if err := a.poller.RunOnce(ctx, name); err != nil {
		return err
	}
	for _, st := range a.poller.Statuses() {
		if st.Name == name {
			fmt.Printf("%s: %s, runs %d\n", st.Name, st.State, st.Runs)
		}
	}
	return nil
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one deadline scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runRoutine(ctx, a, a.scanner.Name())
			})
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver one batch of pending notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runRoutine(ctx, a, a.dispatcher.Name())
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var actor, comment string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Move a progress report through its approval chain",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "id of the user performing the action")
	_ = cmd.MarkPersistentFlagRequired("actor")

	submit := &cobra.Command{
		Use:   "submit <report-id>",
		Short: "Submit a draft or rejected report for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.workflow.Submit(ctx, args[0], actor)
			})
		},
	}

	approve := &cobra.Command{
		Use:   "approve <report-id>",
		Short: "Record the manager review of a submitted report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.workflow.ManagerApprove(ctx, args[0], actor, comment)
			})
		},
	}
	approve.Flags().StringVar(&comment, "comment", "", "review comment")

	final := &cobra.Command{
		Use:   "director-approve <report-id>",
		Short: "Give final approval and create the pending payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				p, err := a.workflow.DirectorApprove(ctx, args[0], actor, comment)
				if err != nil {
					return err
				}
				fmt.Printf("payment %s created: %s %s\n", p.ID, p.Amount.StringFixed(2), p.Currency)
				return nil
			})
		},
	}
	final.Flags().StringVar(&comment, "comment", "", "approval comment")

	reject := &cobra.Command{
		Use:   "reject <report-id> <reason>",
		Short: "Send a report back to the contract curator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.workflow.Reject(ctx, args[0], actor, args[1])
			})
		},
	}

	cmd.AddCommand(submit, approve, final, reject)
	return cmd
}

func paymentCmd() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Manage payments created by approved reports",
	}

	paid := &cobra.Command{
		Use:   "paid <payment-id>",
		Short: "Mark a payment paid and close the tasks of its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.payments.MarkPaid(ctx, args[0], actor)
				if err != nil {
					return err
				}
				fmt.Printf("payment %s paid, %d task(s) completed\n", args[0], n)
				return nil
			})
		},
	}
	paid.Flags().StringVar(&actor, "actor", "", "id of the user performing the action")
	_ = paid.MarkFlagRequired("actor")

	cmd.AddCommand(paid)
	return cmd
}

func inboxCmd() *cobra.Command {
	var unread bool
	var limit int

	cmd := &cobra.Command{
		Use:   "inbox <user-id>",
		Short: "List a user's notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				list, err := a.store.GetNotifications(ctx, store.NotificationFilter{
					UserID:     args[0],
					UnreadOnly: unread,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				for _, n := range list {
					mark := " "
					if !n.Read {
						mark = "*"
					}
					fmt.Printf("%s %s  %-8s %s\n", mark, n.CreatedAt.Format("2006-01-02 15:04"), n.Priority, n.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum notifications to list")

	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.store.MarkNotificationRead(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(read)
	return cmd
}

func configCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := model.SaveConfig(configPath, model.DefaultAppConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store delivery secrets in the system keyring",
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret, e.g. smtp-password or telegram-bot-token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return credential.Set(args[0], args[1])
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return credential.Delete(args[0])
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}

func taskCmd() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, delegate and update tasks",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "id of the user performing the action")
	_ = cmd.MarkPersistentFlagRequired("actor")

	var (
		assignee, description, priority, due string
		contractID, reportID                 string
	)
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task and notify its assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				dueDate, err := parseDue(a, due)
				if err != nil {
					return err
				}
				t := &model.Task{
					Title:       args[0],
					Description: description,
					Priority:    model.TaskPriority(priority),
					DueDate:     dueDate,
					AssigneeID:  assignee,
				}
				if contractID != "" {
					t.ContractID = &contractID
				}
				if reportID != "" {
					t.ProgressReportID = &reportID
				}
				if err := a.tasks.Create(ctx, t, actor); err != nil {
					return err
				}
				fmt.Printf("task %s created, due %s\n", t.ID, t.DueDate.In(a.loc).Format("2006-01-02 15:04"))
				return nil
			})
		},
	}
	create.Flags().StringVar(&assignee, "assignee", "", "id of the user who will do the work")
	create.Flags().StringVar(&description, "description", "", "task description")
	create.Flags().StringVar(&priority, "priority", string(model.TaskPriorityNormal), "low, normal, high or critical")
	create.Flags().StringVar(&due, "due", "", "due date, YYYY-MM-DD or YYYY-MM-DD HH:MM")
	create.Flags().StringVar(&contractID, "contract", "", "related contract id")
	create.Flags().StringVar(&reportID, "report", "", "related progress report id")
	_ = create.MarkFlagRequired("assignee")
	_ = create.MarkFlagRequired("due")

	assign := &cobra.Command{
		Use:   "assign <task-id> <assignee-id>",
		Short: "Delegate a task to another user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.tasks.Assign(ctx, args[0], args[1], actor)
			})
		},
	}

	status := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to new, in_progress, on_hold, under_review, completed or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				t, err := a.tasks.ChangeStatus(ctx, args[0], model.TaskStatus(args[1]), actor)
				if err != nil {
					return err
				}
				fmt.Printf("task %s is %s\n", t.ID, t.Status)
				return nil
			})
		},
	}

	cmd.AddCommand(create, assign, status, extensionCmd(&actor))
	return cmd
}

func extensionCmd(actor *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Request and decide due date extensions",
	}

	request := &cobra.Command{
		Use:   "request <task-id> <new-due> <reason>",
		Short: "Ask the task's assigner for a later due date",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				due, err := parseDue(a, args[1])
				if err != nil {
					return err
				}
				req, err := a.tasks.RequestExtension(ctx, args[0], *actor, args[2], due)
				if err != nil {
					return err
				}
				fmt.Printf("extension request %s created\n", req.ID)
				return nil
			})
		},
	}

	approve := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Accept an extension request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.tasks.ApproveExtension(ctx, args[0], *actor)
			})
		},
	}

	reject := &cobra.Command{
		Use:   "reject <request-id> <reason>",
		Short: "Decline an extension request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.tasks.RejectExtension(ctx, args[0], *actor, args[1])
			})
		},
	}

	cmd.AddCommand(request, approve, reject)
	return cmd
}

// parseDue reads a date or date-time in the configured timezone. A bare
// date means the end of that working day.
func parseDue(a *app, s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, a.loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, a.loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: "due", Message: fmt.Sprintf("cannot parse %q", s)}
	}
	return t.Add(18 * time.Hour), nil
}
