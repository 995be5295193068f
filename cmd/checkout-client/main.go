package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"mailsized/obs"
)

func main() {
	shutdownObs, logger := obs.Init("mailsized-client")
	defer func() { _ = shutdownObs(context.Background()) }()

	ctx, cancel := signalContext()
	defer cancel()

	runner := NewRunner(RunnerOpts{Logger: logger})
	app := &cli.Command{
		Name:    "checkout-client",
		Usage:   "Compress a video so it fits an email attachment limit",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Sources: cli.EnvVars("MAILSIZED_CONFIG"),
			},
		},
		Commands: runner.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Error("application error", "err", err)
		_ = shutdownObs(context.Background())
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		// second signal: hard exit
		select {
		case <-ch:
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()
	return ctx, cancel
}
