package reveal

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/duoexplain/pkg/models"
)

// ErrStaleTarget stops a run whose message is no longer accepting progress
var ErrStaleTarget = errors.New("reveal target no longer accepts progress")

// Config holds the scheduler timing
type Config struct {
	InitialDelay time.Duration // pause before the first tick
	TickInterval time.Duration // delay between consecutive ticks
}

// DefaultConfig returns the standard reveal pacing
func DefaultConfig() Config {
	return Config{
		InitialDelay: 500 * time.Millisecond,
		TickInterval: 850 * time.Millisecond,
	}
}

// ProgressUpdater receives the progress of the message a run is bound to. It
// returns false when no message with that id accepts progress any more.
type ProgressUpdater interface {
	UpdateProgress(id string, progress models.RevealProgress) bool
}

// Observer receives tick and run outcomes
type Observer interface {
	ObserveTick(advanced bool)
	ObserveRun(outcome string)
}

// Run outcomes reported to the Observer
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeStale     = "stale"
)

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithObserver attaches a tick observer
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// Scheduler paces reveal runs with a single reusable timer per run
type Scheduler struct {
	cfg      Config
	clock    clockwork.Clock
	observer Observer
}

// NewScheduler creates a scheduler
func NewScheduler(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scheduler timing
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run drives the reveal of result into the message identified by target until
// both channels are fully revealed. It blocks; callers start it on its own
// goroutine. The final progress is returned together with ctx.Err() when the
// run is cancelled, or ErrStaleTarget when the updater rejects the target.
func (s *Scheduler) Run(ctx context.Context, target string, result *models.AnalysisResult, updater ProgressUpdater) (models.RevealProgress, error) {
	run := NewRun(result)
	total := run.TotalTicks()
	logger := log.With().Str("message_id", target).Int("total_ticks", total).Logger()

	if total == 0 {
		s.observeRun(OutcomeCompleted)
		return run.Progress(), nil
	}

	logger.Debug().Dur("initial_delay", s.cfg.InitialDelay).Msg("Reveal run started")

	timer := s.clock.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for !run.Done() {
		select {
		case <-ctx.Done():
			logger.Debug().Int("tick", run.Ticks()).Msg("Reveal run cancelled")
			s.observeRun(OutcomeCancelled)
			return run.Progress(), ctx.Err()
		case <-timer.Chan():
		}

		progress, advanced := run.Tick()
		if s.observer != nil {
			s.observer.ObserveTick(advanced)
		}
		if !updater.UpdateProgress(target, progress) {
			logger.Debug().Int("tick", run.Ticks()).Msg("Reveal target went stale")
			s.observeRun(OutcomeStale)
			return progress, ErrStaleTarget
		}

		if !run.Done() {
			timer.Reset(s.cfg.TickInterval)
		}
	}

	logger.Debug().
		Int("rule", run.Progress().RuleRevealed).
		Int("llm", run.Progress().LLMRevealed).
		Msg("Reveal run completed")
	s.observeRun(OutcomeCompleted)
	return run.Progress(), nil
}

func (s *Scheduler) observeRun(outcome string) {
	if s.observer != nil {
		s.observer.ObserveRun(outcome)
	}
}
