package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kirillkom/casefile/internal/adapters/cli"
	"github.com/kirillkom/casefile/internal/bootstrap"
	"github.com/kirillkom/casefile/internal/config"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/observability/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return cli.ExitInvalidInput
	}
	logger := logging.NewJSONLogger("casefile", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(ctx context.Context, prompter ports.MetadataPrompter) (*cli.Deps, func(), error) {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
			Logger:   logger,
			Prompter: prompter,
			OnUnauthorized: func(error) {
				fmt.Fprintln(os.Stderr, "session expired: sign in again and set CASEFILE_API_TOKEN")
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		return &cli.Deps{
			Registry:         app.Registry,
			Uploads:          app.Uploads,
			Analysis:         app.Analysis,
			Bulk:             app.Bulk,
			Subscriber:       app.Subscriber,
			AskPendingWindow: cfg.AskPendingWindow(),
		}, app.Close, nil
	}

	root := cli.NewRootCommand(factory, os.Stdin, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}
