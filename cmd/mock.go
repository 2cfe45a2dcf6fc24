package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/duoexplain/internal/config"
	"github.com/duoexplain/internal/mockanalyzer"
)

// MockAnalyzerCommand returns the command that runs the local stand-in
// analysis service
func MockAnalyzerCommand() *cli.Command {
	return &cli.Command{
		Name:  "mock-analyzer",
		Usage: "Serve canned analyses on POST /analyze for local development",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (env PORT also works)",
				EnvVars: []string{"PORT"},
			},
			&cli.DurationFlag{
				Name:  "latency",
				Usage: "Artificial delay before each response",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, func(cfg *config.Config) error {
				if c.IsSet("port") {
					cfg.Mock.Port = c.Int("port")
				}
				if c.IsSet("latency") {
					cfg.Mock.Latency = c.Duration("latency")
				}
				return nil
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return mockanalyzer.NewServer(cfg.Mock.Port, cfg.Mock.Latency).Start(ctx)
		},
	}
}
