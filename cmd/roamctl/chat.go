package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/chat"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <chatId>",
	Short: "Print a conversation and send stdin lines to it",
	Long:  "Prints the history of a conversation, then sends every line read from stdin and prints live messages until EOF or interrupt.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core) error {
			if err := requireSession(c); err != nil {
				return err
			}
			events, unsub := c.Bus.Subscribe("chat.", 256)
			defer unsub()

			conv, err := c.Chats.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer conv.Close()

			out := cmd.OutOrStdout()
			for _, m := range conv.Messages() {
				printMessage(out, m)
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := conv.Send(ctx, line); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
					}
				case evt := <-events:
					printEvent(cmd, conv.ID(), evt)
				case <-ctx.Done():
					return nil
				}
			}
		})
	},
}

func printEvent(cmd *cobra.Command, chatID string, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case chat.MessageEvent:
		if p.ConversationID == chatID && !p.Message.IsLocal() {
			printMessage(cmd.OutOrStdout(), p.Message)
		}
	case chat.SendFailure:
		if p.ConversationID == chatID {
			fmt.Fprintf(cmd.ErrOrStderr(), "not delivered: %q (%v)\n", p.Text, p.Err)
		}
	}
}

func printMessage(w io.Writer, m chat.Message) {
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	fmt.Fprintf(w, "[%s] %s: %s", m.CreatedAt.Local().Format(time.TimeOnly), who, m.Text)
	if m.State != chat.Confirmed {
		fmt.Fprintf(w, "  (%s)", strings.ToLower(string(m.State)))
	}
	fmt.Fprintln(w)
}
