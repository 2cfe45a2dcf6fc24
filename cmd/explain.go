package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/config"
	"github.com/duoexplain/internal/render"
	"github.com/duoexplain/internal/retry"
	"github.com/duoexplain/internal/reveal"
	"github.com/duoexplain/internal/session"
	"github.com/duoexplain/pkg/models"
)

// ExplainCommand returns the explain command
func ExplainCommand() *cli.Command {
	return &cli.Command{
		Name:  "explain",
		Usage: "Analyze a snippet and reveal both explanations step by step",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Analysis service base URL",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Analysis request timeout",
			},
			&cli.StringFlag{
				Name:    "speed",
				Aliases: []string{"s"},
				Usage:   "Reveal speed preset (" + strings.Join(reveal.Presets(), ", ") + ")",
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "Delay between reveal ticks",
			},
			&cli.DurationFlag{
				Name:  "initial-delay",
				Usage: "Delay before the first reveal tick",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Regenerate up to N times after a retryable analysis failure",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: text or json",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		ArgsUsage: "[FILE|-]",
		Action:    runExplain,
	}
}

func runExplain(c *cli.Context) error {
	output := c.String("output")
	if output != "text" && output != "json" {
		return fmt.Errorf("unsupported output format: %s", output)
	}

	code, err := readSnippet(c.Args().First(), c.App.Reader)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c, func(cfg *config.Config) error {
		if c.IsSet("base-url") {
			cfg.Analyzer.BaseURL = c.String("base-url")
		}
		if c.IsSet("timeout") {
			cfg.Analyzer.Timeout = c.Duration("timeout")
		}
		if c.IsSet("speed") {
			cfg.Reveal.Speed = c.String("speed")
		}
		if c.IsSet("tick") {
			cfg.Reveal.TickInterval = c.Duration("tick")
			cfg.Reveal.Speed = ""
		}
		if c.IsSet("initial-delay") {
			cfg.Reveal.InitialDelay = c.Duration("initial-delay")
		}
		if c.Bool("verbose") {
			cfg.Log.Level = "debug"
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

	sess := session.New(analyzer.NewClient(cfg.AnalyzerConfig()), reveal.NewScheduler(revealCfg))
	defer sess.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxRetries = c.Int("retries")

	return explain(ctx, sess, code, retryCfg, output, c.App.Writer)
}

// explain submits code, retrying through Regenerate, then follows the
// transcript until the reveal ends
func explain(ctx context.Context, sess *session.Session, code string, retryCfg retry.RetryConfig, output string, w io.Writer) error {
	printer := render.NewPrinter(w)

	attempt := 0
	result := retry.RetryWithBackoff(ctx, retryCfg, func(ctx context.Context) error {
		attempt++
		if attempt == 1 {
			return sess.Submit(ctx, code)
		}
		return sess.Regenerate(ctx)
	})
	if !result.Success {
		if output == "text" {
			printer.Error(result.LastError)
		}
		return fmt.Errorf("analysis failed after %d attempt(s): %w", result.Attempts, result.LastError)
	}

	final, err := follow(ctx, sess, printer, code, output == "text")
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}
	return nil
}

// follow prints reveal progress of the newest assistant message until the
// session goes idle and returns that message
func follow(ctx context.Context, sess *session.Session, printer *render.Printer, code string, text bool) (models.Message, error) {
	store := sess.Transcript()
	codeShown := false
	var latest models.Message

	for {
		changed := store.Changed()
		idle := sess.Idle()
		done := isClosed(idle)

		if msg, ok := lastAssistant(store.Snapshot()); ok {
			latest = msg
			if text {
				if !codeShown {
					codeShown = true
					printer.Code(code, render.HighlightedLines(msg.Analysis))
				}
				printer.Update(msg)
			}
		}

		if done {
			if latest.ID == "" {
				return latest, errors.New("no analysis was produced")
			}
			return latest, nil
		}

		select {
		case <-ctx.Done():
			return latest, ctx.Err()
		case <-changed:
		case <-idle:
		}
	}
}

func lastAssistant(messages []models.Message) (models.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAssistant() {
			return messages[i], true
		}
	}
	return models.Message{}, false
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func readSnippet(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snippet: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", session.ErrEmptySubmission
	}
	return string(data), nil
}
