package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/duoexplain/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "duoexplain",
		Usage:   "Explain a code snippet through a rule engine and an LLM, one step at a time",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./duoexplain.toml or ~/.duoexplain.toml)",
			},
		},
		Commands: []*cli.Command{
			cmd.ExplainCommand(),
			cmd.ServeCommand(),
			cmd.MockAnalyzerCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
