package main

import (
	"context"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/internal/version"
	"github.com/rxtech-lab/argo-stream/pkg/stream"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "argo-watch",
		Usage:   "Watch a live trades or quotes feed in the terminal",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
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
				Sources: cli.EnvVars("ARGO_STREAM_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "WebSocket implementation: gorilla, nhooyr",
			},
			&cli.DurationFlag{
				Name:    "frequency-limit",
				Aliases: []string{"f"},
				Usage:   "Minimum interval between two table updates",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write stream logs to this file (logging is off otherwise)",
			},
		},
		Action: watchAction,
	}
}

func loadConfig(cmd *cli.Command) (stream.Config, error) {
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

	if err := cfg.Validate(); err != nil {
		return stream.Config{}, err //nolint:exhaustruct // zero value for error response
	}

	return cfg, nil
}

func watchAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	streamLog := logger.NewNop()
	if path := cmd.String("log-file"); path != "" {
		streamLog, err = logger.NewLoggerWithOutput("debug", path)
		if err != nil {
			return err
		}
	}
	defer func() { _ = streamLog.Sync() }()

	p := tea.NewProgram(NewModel(cfg, streamLog), tea.WithAltScreen())
	_, err = p.Run()

	return err
}
