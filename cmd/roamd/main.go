package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/roam/internal/app"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	quietFlag := flag.Bool("quiet", false, "only log warnings to stderr")
	flag.Parse()

	name, err := profile.Select(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{Profile: name, Binary: "roamd", Quiet: *quietFlag}),
		fx.Invoke(logEvents),
	).Run()
}

// logEvents writes every bus event to the log. It subscribes at
// construction so the events of session startup are included.
func logEvents(lc fx.Lifecycle, b *bus.Bus, logger *zap.Logger) {
	ch, unsub := b.Subscribe("", 256)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				logger.Info("event", zap.String("kind", evt.Kind), zap.Any("payload", evt.Payload))
			case <-done:
				return
			}
		}
	}()
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			unsub()
			close(done)
			return nil
		},
	})
}
