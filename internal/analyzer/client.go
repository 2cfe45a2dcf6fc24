package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/duoexplain/pkg/models"
)

// DefaultTimeout is the fixed budget for one analyze call
const DefaultTimeout = 15 * time.Second

// AnalyzePath is the analyzer route, relative to the configured base address
const AnalyzePath = "/analyze"

// Config configures the analysis client
type Config struct {
	BaseURL           string        // empty means a relative request, routed by the HTTP transport
	Timeout           time.Duration // defaults to DefaultTimeout
	RequestsPerSecond float64       // 0 disables client-side rate limiting
	LenientJSON       bool          // repair nearly-JSON bodies before validation
}

// Observer receives the outcome of every analyze call
type Observer interface {
	ObserveAnalyze(outcome string, elapsed time.Duration)
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Transport is
// responsible for routing relative endpoints when no base address is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver attaches an outcome observer
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// Client sends snippets to the remote analyzer
type Client struct {
	endpoint   string
	timeout    time.Duration
	lenient    bool
	limiter    *rate.Limiter
	httpClient *http.Client
	observer   Observer
}

// analyzeRequest is the POST payload for /analyze
type analyzeRequest struct {
	Code string `json:"code"`
}

// NewClient creates a new analysis client
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		endpoint:   Endpoint(cfg.BaseURL),
		timeout:    timeout,
		lenient:    cfg.LenientJSON,
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint builds the analyze URL from an optional base address
func Endpoint(baseURL string) string {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return AnalyzePath
	}
	return base + AnalyzePath
}

// Endpoint returns the URL requests are sent to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Timeout returns the per-call budget
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Analyze sends the code verbatim and returns the validated analysis.
// Exactly one request is made; retries are left to the caller.
func (c *Client) Analyze(ctx context.Context, code string) (*models.AnalysisResult, error) {
	start := time.Now()
	result, err := c.analyze(ctx, code)

	outcome := "success"
	if err != nil {
		outcome = KindOf(err)
	}
	if c.observer != nil {
		c.observer.ObserveAnalyze(outcome, time.Since(start))
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("kind", outcome).
			Str("endpoint", c.endpoint).
			Dur("elapsed", time.Since(start)).
			Msg("Analyze request failed")
		return nil, err
	}

	log.Debug().
		Str("endpoint", c.endpoint).
		Int("rule_steps", len(result.Rule.ReasoningSteps)).
		Int("llm_steps", len(result.LLM.ReasoningSteps)).
		Dur("elapsed", time.Since(start)).
		Msg("Analyze request succeeded")
	return result, nil
}

func (c *Client) analyze(ctx context.Context, code string) (*models.AnalysisResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonData, err := json.Marshal(analyzeRequest{Code: code})
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	if err := c.limiter.Wait(reqCtx); err != nil {
		// The limiter refuses early when the wait would outlast the budget.
		if ctx.Err() != nil {
			return nil, &NetworkError{Err: ctx.Err()}
		}
		return nil, &TimeoutError{Timeout: c.timeout}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil && reqCtx.Err() != nil {
		return nil, c.classify(ctx, reqCtx, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if readErr != nil || message == "" {
			message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: message}
	}

	if readErr != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to read response: %w", readErr)}
	}

	if c.lenient {
		repaired, stats, repairErr := repairJSON(body)
		if repairErr == nil {
			if stats.WasRepaired {
				log.Debug().
					Strs("strategies", stats.Strategies).
					Int("original_bytes", stats.OriginalBytes).
					Int("repaired_bytes", stats.RepairedBytes).
					Msg("Repaired analyzer payload")
			}
			body = repaired
		}
	}

	result, err := models.DecodeAnalysisResult(body)
	if err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	return result, nil
}

// classify turns a transport failure into the client error taxonomy. Only the
// client's own deadline counts as a timeout; a cancelled caller context is a
// network failure wrapping the context error.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return &NetworkError{Err: parent.Err()}
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.timeout}
	}
	return &NetworkError{Err: err}
}
