package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/reveal"
	"github.com/duoexplain/internal/transcript"
	"github.com/duoexplain/pkg/models"
)

// Errors
var (
	ErrBusy                = errors.New("a previous submission is still in progress")
	ErrEmptySubmission     = errors.New("submission is empty")
	ErrNothingToRegenerate = errors.New("no previous submission to regenerate")
	ErrClosed              = errors.New("session is closed")
)

// Analyzer produces the analysis for a snippet
type Analyzer interface {
	Analyze(ctx context.Context, code string) (*models.AnalysisResult, error)
}

// Observer is told about rejected submissions
type Observer interface {
	ObserveRejected(reason string)
}

// Option customizes a Session
type Option func(*Session)

// WithTranscript uses an existing transcript store
func WithTranscript(store *transcript.Store) Option {
	return func(s *Session) {
		s.transcript = store
	}
}

// WithObserver attaches a rejection observer
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observer = o
	}
}

// Session owns one transcript, the reveal runs bound to its assistant
// messages, and the busy flag that serializes submissions
type Session struct {
	analyzer   Analyzer
	scheduler  *reveal.Scheduler
	transcript *transcript.Store
	observer   Observer

	mu     sync.Mutex
	busy   bool
	closed bool
	idle   chan struct{}
	runs   map[string]context.CancelFunc

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a session
func New(a Analyzer, scheduler *reveal.Scheduler, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		analyzer:   a,
		scheduler:  scheduler,
		transcript: transcript.New(),
		runs:       make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		cancelAll:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcript returns the session's transcript
func (s *Session) Transcript() *transcript.Store {
	return s.transcript
}

// Submit appends the code as a user message, analyzes it and, on success,
// appends the assistant message and starts revealing it in the background.
// Analyzer errors are returned as-is; no assistant message is created for a
// failed submission.
func (s *Session) Submit(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		s.observeRejected("empty")
		return ErrEmptySubmission
	}
	if err := s.acquire(); err != nil {
		return err
	}

	s.transcript.AppendUser(code)
	return s.analyzeAndReveal(ctx, code)
}

// Regenerate submits the most recent user text again
func (s *Session) Regenerate(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	text, ok := s.transcript.LastUserText()
	if !ok || strings.TrimSpace(text) == "" {
		s.release()
		s.observeRejected("nothing_to_regenerate")
		return ErrNothingToRegenerate
	}

	s.transcript.AppendUser(text)
	return s.analyzeAndReveal(ctx, text)
}

func (s *Session) analyzeAndReveal(ctx context.Context, code string) error {
	result, err := s.analyzer.Analyze(ctx, code)
	if err != nil {
		s.release()
		log.Warn().
			Err(err).
			Str("kind", analyzer.KindOf(err)).
			Msg("Analysis failed")
		return err
	}

	// the closed check, the append and the run registration share one
	// critical section
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release()
		return ErrClosed
	}
	id := s.transcript.AppendAssistant(result)
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.runs[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info().
		Str("message_id", id).
		Int("rule_steps", len(result.Rule.ReasoningSteps)).
		Int("llm_steps", len(result.LLM.ReasoningSteps)).
		Msg("Analysis received, starting reveal")

	go s.reveal(runCtx, id, result)
	return nil
}

func (s *Session) reveal(ctx context.Context, id string, result *models.AnalysisResult) {
	defer s.wg.Done()

	_, err := s.scheduler.Run(ctx, id, result, runUpdater{s: s})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("message_id", id).Msg("Reveal run ended early")
	}

	s.mu.Lock()
	if cancel, ok := s.runs[id]; ok {
		cancel()
		delete(s.runs, id)
	}
	s.mu.Unlock()
	s.release()
}

// runUpdater forwards progress only for ids with a live run, so ticks from an
// abandoned run never reach the transcript
type runUpdater struct {
	s *Session
}

func (u runUpdater) UpdateProgress(id string, progress models.RevealProgress) bool {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, live := u.s.runs[id]; !live {
		return false
	}
	return u.s.transcript.UpdateProgress(id, progress)
}

// Busy reports whether a submission is being analyzed or revealed
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Idle returns a channel that is closed once the session is not busy
func (s *Session) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		return closedChan
	}
	return s.idle
}

// Wait blocks until the session is idle or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels active reveal runs, waits for them to stop and rejects
// further submissions
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, cancel := range s.runs {
		cancel()
		delete(s.runs, id)
	}
	s.mu.Unlock()

	s.cancelAll()
	s.wg.Wait()
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		if s.observer != nil {
			s.observer.ObserveRejected("busy")
		}
		return ErrBusy
	}
	s.busy = true
	s.idle = make(chan struct{})
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		return
	}
	s.busy = false
	close(s.idle)
}

func (s *Session) observeRejected(reason string) {
	if s.observer != nil {
		s.observer.ObserveRejected(reason)
	}
}
