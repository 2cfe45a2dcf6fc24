package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/logging"
	"github.com/duoexplain/internal/session"
	"github.com/duoexplain/pkg/models"
)

// Server exposes one session over HTTP
type Server struct {
	echo    *echo.Echo
	port    int
	session *session.Session
	metrics http.Handler
}

// SubmissionRequest is the body of POST /api/v1/submissions
type SubmissionRequest struct {
	Code string `json:"code"`
}

// TranscriptResponse is the transcript view returned to clients
type TranscriptResponse struct {
	Messages []models.Message `json:"messages"`
	Busy     bool             `json:"busy"`
}

// ErrorResponse describes a failed submission
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(port int, sess *session.Session, metrics http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(logging.RequestLogger("api"))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:    e,
		port:    port,
		session: sess,
		metrics: metrics,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/submissions", s.createSubmission)
	v1.POST("/regenerate", s.regenerate)
	v1.GET("/transcript", s.getTranscript)
	v1.GET("/transcript/ws", s.transcriptWS)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("Session API listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) createSubmission(c echo.Context) error {
	var req SubmissionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "request body must be JSON with a code field"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: session.ErrEmptySubmission.Error()})
	}

	if err := s.session.Submit(c.Request().Context(), req.Code); err != nil {
		return writeSessionError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) regenerate(c echo.Context) error {
	if err := s.session.Regenerate(c.Request().Context()); err != nil {
		return writeSessionError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) getTranscript(c echo.Context) error {
	return c.JSON(http.StatusOK, s.transcriptView())
}

func (s *Server) transcriptView() TranscriptResponse {
	return TranscriptResponse{
		Messages: s.session.Transcript().Snapshot(),
		Busy:     s.session.Busy(),
	}
}

// writeSessionError maps session and analyzer errors onto status codes
func writeSessionError(c echo.Context, err error) error {
	status := http.StatusBadGateway
	kind := analyzer.KindOf(err)

	switch {
	case errors.Is(err, session.ErrEmptySubmission):
		status, kind = http.StatusBadRequest, "bad_request"
	case errors.Is(err, session.ErrBusy):
		status, kind = http.StatusConflict, "busy"
	case errors.Is(err, session.ErrNothingToRegenerate):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrClosed):
		status, kind = http.StatusServiceUnavailable, "closed"
	case kind == analyzer.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	return c.JSON(status, ErrorResponse{Error: kind, Message: err.Error()})
}
