package main

import (
	"context"
	"fmt"

	"wadispatch/internal/app"
	"wadispatch/internal/models"

	"github.com/spf13/cobra"
)

func (c *cli) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-letter queues",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list [queue]",
		Short: "List entries of a queue, oldest attempt first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.DLQ.List(ctx, args[0], listLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			})
		},
	}
	list.Flags().IntVarP(&listLimit, "limit", "n", 100, "Maximum entries")

	var replayLimit int
	replay := &cobra.Command{
		Use:   "replay [queue]",
		Short: "Replay one batch of a queue through its original handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.DLQ.Replay(ctx, args[0], replayLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	replay.Flags().IntVarP(&replayLimit, "limit", "n", 0, "Batch size (defaults to the configured DLQ batch)")

	cmd.AddCommand(list, replay)
	return cmd
}

func (c *cli) scheduledCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Manage scheduled template messages",
	}

	tick := &cobra.Command{
		Use:   "tick",
		Short: "Send every due PENDING entry once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Scheduled.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	var in models.ScheduledInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Schedule a template message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entry, err := a.Scheduled.Create(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, entry)
			})
		},
	}
	create.Flags().StringVar(&in.ContactID, "contact", "", "Contact ID")
	create.Flags().StringVar(&in.TemplateName, "template", "", "Template name")
	create.Flags().StringVar(&in.TemplateLanguage, "language", "", "Template language code")
	create.Flags().StringSliceVar(&in.TemplateParams, "param", nil, "Template body parameter (repeatable)")
	create.Flags().StringVar(&in.PhoneNumberID, "phone-number-id", "", "Origination phone number ID")
	create.Flags().StringVar(&in.ScheduledAt, "at", "", "Send time (RFC3339, must be in the future)")
	_ = create.MarkFlagRequired("contact")
	_ = create.MarkFlagRequired("template")
	_ = create.MarkFlagRequired("at")

	cancel := &cobra.Command{
		Use:   "cancel [scheduled-id]",
		Short: "Cancel a PENDING entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Scheduled.Cancel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(tick, create, cancel)
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired rows from every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				removed, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired rows\n", removed)
				return nil
			})
		},
	}
}

func (c *cli) contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage contacts",
	}

	var hard bool
	del := &cobra.Command{
		Use:   "delete [contact-id]",
		Short: "Soft delete a contact, or erase it with its messages and media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !hard {
					if err := a.Contacts.SoftDelete(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
					return nil
				}
				report, err := a.Contacts.HardDelete(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	del.Flags().BoolVar(&hard, "hard", false, "Erase the contact, its messages, media records and blobs")

	cmd.AddCommand(del)
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the schema status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				status, err := a.Store.SchemaStatus(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}
