package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/api"
	"github.com/duoexplain/internal/config"
	"github.com/duoexplain/internal/metrics"
	"github.com/duoexplain/internal/reveal"
	"github.com/duoexplain/internal/session"
)

// ServeCommand returns the CLI command for starting the session API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the session API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Analysis service base URL",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c, func(cfg *config.Config) error {
		if c.IsSet("port") {
			cfg.Server.Port = c.Int("port")
		}
		if c.IsSet("base-url") {
			cfg.Analyzer.BaseURL = c.String("base-url")
		}
		return nil
	})
	if err != nil {
		return err
	}

	revealCfg, err := cfg.RevealConfig()
	if err != nil {
		return err
	}

	m := metrics.New()
	client := analyzer.NewClient(cfg.AnalyzerConfig(), analyzer.WithObserver(m))
	scheduler := reveal.NewScheduler(revealCfg, reveal.WithObserver(m))
	sess := session.New(client, scheduler, session.WithObserver(m))
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting duoexplain API server on port %d...\n", cfg.Server.Port)
	return api.NewServer(cfg.Server.Port, sess, m.Handler()).Start(ctx)
}
