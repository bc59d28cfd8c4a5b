package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/pkg/stream"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

// TokenEnvVar is read when --token is not given.
const TokenEnvVar = "ARGO_STREAM_TOKEN"

func feedCommand(feed stream.Feed, usage string) *cli.Command {
	return &cli.Command{
		Name:  string(feed.Type),
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "instrument",
				Aliases:  []string{"i"},
				Usage:    "Instrument ISIN to subscribe (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "specifier",
				Aliases: []string{"s"},
				Usage:   "Subscription specifier (empty selects the feed default: " + string(feed.DefaultSpecifier) + ")",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Streaming API base URL",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token sent on connect",
				Sources: cli.EnvVars(TokenEnvVar),
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "WebSocket implementation: gorilla, nhooyr",
			},
			&cli.DurationFlag{
				Name:    "frequency-limit",
				Aliases: []string{"f"},
				Usage:   "Minimum interval between two printed messages",
			},
			&cli.StringFlag{
				Name:  "throttle-mode",
				Usage: "How the frequency limit is enforced: drop, wait",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show a message counter instead of printing messages",
			},
			&cli.IntFlag{
				Name:    "max-messages",
				Aliases: []string{"n"},
				Usage:   "Stop after this many messages (0 streams until interrupted)",
			},
		},
		Action: runFeed(feed),
	}
}

// buildConfig loads --config when given and applies the flags that were set on
// top of it.
func buildConfig(cmd *cli.Command) (stream.Config, error) {
	cfg := stream.DefaultConfig()

	if path := cmd.String("config"); path != "" {
		loaded, err := stream.LoadConfig(path)
		if err != nil {
			return stream.Config{}, err //nolint:exhaustruct // zero value for error response
		}

		cfg = loaded
	}

	if cmd.IsSet("base-url") {
		cfg.BaseURL = cmd.String("base-url")
	}

	if cmd.IsSet("token") {
		cfg.Token = cmd.String("token")
	}

	if cmd.IsSet("transport") {
		cfg.Transport = transport.Kind(cmd.String("transport"))
	}

	if cmd.IsSet("frequency-limit") {
		cfg.FrequencyLimit = cmd.Duration("frequency-limit")
	}

	if cmd.IsSet("throttle-mode") {
		cfg.ThrottleMode = stream.ThrottleMode(cmd.String("throttle-mode"))
	}

	if err := cfg.Validate(); err != nil {
		return stream.Config{}, err //nolint:exhaustruct // zero value for error response
	}

	return cfg, nil
}

func runFeed(feed stream.Feed) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}

		log, err := logger.NewLoggerWithLevel(cmd.String("log-level"))
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		out := newPrinter(cmd.Root().Writer, cmd.Bool("progress"), int64(cmd.Int("max-messages")), cancel)

		s, err := stream.Start(ctx, feed, out.handle, cfg,
			stream.WithLogger(log),
			stream.WithErrorHandler(func(err error) {
				log.Warn("Stream fault", zap.Error(err))
			}),
		)
		if err != nil {
			return err
		}
		defer func() { _ = s.Stop() }()

		specifier := stream.Specifier(cmd.String("specifier"))
		for _, id := range cmd.StringSlice("instrument") {
			if err := s.Subscribe(id, specifier); err != nil {
				return err
			}
		}

		log.Info("Streaming",
			zap.String("feed", string(feed.Type)),
			zap.Strings("instruments", cmd.StringSlice("instrument")),
			zap.Any("config", cfg.Redacted()),
		)

		select {
		case <-ctx.Done():
		case <-s.Done():
		}

		stopErr := s.Stop()
		out.finish()

		stats := s.Stats()
		log.Info("Stream stopped",
			zap.Int64("printed", out.printed()),
			zap.Int64("delivered", stats.Delivered),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("reconnects", stats.Reconnects),
		)

		if err := s.Err(); err != nil {
			return err
		}

		return stopErr
	}
}
