package mockanalyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/duoexplain/internal/logging"
)

// Server is a stand-in analysis service for local development
type Server struct {
	echo    *echo.Echo
	port    int
	latency time.Duration
}

// NewServer creates the mock analyzer. latency delays every analysis.
func NewServer(port int, latency time.Duration) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(logging.RequestLogger("mock-analyzer"))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	s := &Server{echo: e, port: port, latency: latency}

	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "duoexplain mock analyzer: POST /analyze")
	})
	e.POST("/analyze", s.analyze)
	e.POST("/api/analyze", s.analyze)

	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Mock analyzer listening at http://127.0.0.1:%d", s.port)
		if err := s.echo.Start(fmt.Sprintf("127.0.0.1:%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) analyze(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "Bad Request")
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	code, err := decodeCode(body)
	if err != nil {
		return c.String(http.StatusBadRequest, "Bad Request")
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-timer.C:
		}
	}

	return c.JSON(http.StatusOK, BuildAnalysis(code))
}

// decodeCode reads the code field leniently: non-string values are
// stringified and falsy ones become empty. Only unparseable JSON and a null
// body are errors.
func decodeCode(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return "", err
	}
	if payload == nil {
		return "", errors.New("null body")
	}

	fields, ok := payload.(map[string]interface{})
	if !ok {
		return "", nil
	}

	switch v := fields["code"].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		if !v {
			return "", nil
		}
		return "true", nil
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return "", nil
		}
		return v.String(), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
