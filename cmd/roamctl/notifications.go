package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/notify"
	"github.com/spf13/cobra"
)

func init() {
	notificationsCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "keep running and print counter changes")
	rootCmd.AddCommand(notificationsCmd, readCmd, deleteCmd, clearCmd)
}

var watchFlag bool

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "List notifications and the unread counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core) error {
			if err := requireSession(c); err != nil {
				return err
			}
			// The supervisor bootstraps asynchronously; a direct bootstrap
			// makes the first listing deterministic.
			if err := c.Feed.Bootstrap(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonFlag && !watchFlag {
				return printJSON(out, struct {
					Unread  int                `json:"unread"`
					Records []api.Notification `json:"notifications"`
				}{c.Feed.Unread(), c.Feed.Records()})
			}
			printNotifications(out, c.Feed)
			if !watchFlag {
				return nil
			}

			ch, unsub := c.Bus.Subscribe("notification.", 64)
			defer unsub()
			for {
				select {
				case evt := <-ch:
					if change, ok := evt.Payload.(notify.UnreadChange); ok && evt.Kind == bus.NotificationUnreadChanged {
						fmt.Fprintf(out, "%s  unread: %d\n", evt.Timestamp.Format(time.TimeOnly), change.Count)
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	},
}

func printNotifications(w io.Writer, feed *notify.Engine) {
	fmt.Fprintf(w, "Unread: %d\n", feed.Unread())
	for _, n := range feed.Records() {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		from := ""
		if n.Sender != nil {
			from = n.Sender.DisplayName() + ": "
		}
		fmt.Fprintf(w, "%s %s  %s  %s%s\n", mark, n.ID, n.CreatedAt.Local().Format(time.DateTime), from, n.Text)
	}
}

var readCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, func(ctx context.Context, feed *notify.Engine) error {
			return feed.MarkRead(ctx, args[0])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, func(ctx context.Context, feed *notify.Engine) error {
			return feed.Delete(ctx, args[0])
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, func(ctx context.Context, feed *notify.Engine) error {
			return feed.ClearAll(ctx)
		})
	},
}

func mutate(cmd *cobra.Command, fn func(ctx context.Context, feed *notify.Engine) error) error {
	return withCore(func(ctx context.Context, c *core) error {
		if err := requireSession(c); err != nil {
			return err
		}
		if err := fn(ctx, c.Feed); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unread: %d\n", c.Feed.Unread())
		return nil
	})
}
