package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/argo-stream/internal/version"
	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "argo-stream",
		Usage:   "Stream real-time trades and quotes to stdout",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			feedCommand(stream.TradesFeed, "Stream executed trades"),
			feedCommand(stream.QuotesFeed, "Stream top-of-book quotes"),
			schemaCommand(),
		},
	}
}
