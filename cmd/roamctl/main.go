package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/app"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/chat"
	"github.com/matheus3301/roam/internal/notify"
	"github.com/matheus3301/roam/internal/profile"
	"github.com/matheus3301/roam/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	profileFlag string
	jsonFlag    bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "roamctl",
	Short:         "Operate a roam profile from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log info messages to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// core is the part of the client a command works with.
type core struct {
	Auth    *api.Auth
	Session *session.Controller
	Client  *api.Client
	Feed    *notify.Engine
	Chats   *chat.Engine
	Bus     *bus.Bus
}

// withCore starts the client for the selected profile, runs fn and stops
// the client again. fn's context is cancelled on SIGINT or SIGTERM.
func withCore(fn func(ctx context.Context, c *core) error) error {
	name, err := profile.Select(profileFlag)
	if err != nil {
		return err
	}

	var c core
	fxApp := fx.New(
		app.Module(app.Params{Profile: name, Binary: "roamctl", Quiet: !verboseFlag}),
		fx.Populate(&c.Auth, &c.Session, &c.Client, &c.Feed, &c.Chats, &c.Bus),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		_ = fxApp.Stop(stopCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, &c)
}

// requireSession fails commands that need a signed-in profile.
func requireSession(c *core) error {
	if !c.Session.Status().IsSignedIn() {
		return fmt.Errorf("not logged in (status %s); run roamctl login", c.Session.Status())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
