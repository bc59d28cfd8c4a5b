package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

const (
	schemaFileName       = "argo-stream-config.json"
	sampleConfigFileName = "argo-stream-config.yaml"
)

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Write the config JSON schema and a sample config",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory to write into",
				Value:   "./config",
			},
			&cli.BoolFlag{
				Name:  "stdout",
				Usage: "Print the schema instead of writing files",
			},
		},
		Action: schemaAction,
	}
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	schemaJSON, err := stream.ConfigSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	out := cmd.Root().Writer

	if cmd.Bool("stdout") {
		_, err := fmt.Fprintln(out, schemaJSON)

		return err
	}

	dir := cmd.String("output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	schemaPath := filepath.Join(dir, schemaFileName)
	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0o600); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	// the sample config is only written once so local edits survive
	samplePath := filepath.Join(dir, sampleConfigFileName)
	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		sample, err := sampleConfig()
		if err != nil {
			return err
		}

		if err := os.WriteFile(samplePath, sample, 0o600); err != nil {
			return fmt.Errorf("failed to write sample config: %w", err)
		}

		_, _ = fmt.Fprintf(out, "Sample config written to %s\n", samplePath)
	}

	_, _ = fmt.Fprintf(out, "Schema written to %s\n", schemaPath)

	return nil
}

// sampleConfig renders the default config as YAML with a schema reference for
// editors.
func sampleConfig() ([]byte, error) {
	body, err := yaml.Marshal(stream.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample config: %w", err)
	}

	return append([]byte("# yaml-language-server: $schema="+schemaFileName+"\n"), body...), nil
}
