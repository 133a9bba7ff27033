// Package http serves live conversation sessions and index search over HTTP.
//
// A voice pipeline posts its callbacks as events to
// /api/v1/sessions/:id/events; each session is an IndexingLog created on
// the first event and drained when the session is deleted or the server
// shuts down.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/index"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
)

// Event types accepted by the events endpoint.
const (
	EventUser      = "user"
	EventAssistant = "assistant"
	EventFinalize  = "finalize"
)

const defaultSearchLimit = 10

// SessionFactory creates the indexing log for a new session.
type SessionFactory func(sessionID string) *conversation.IndexingLog

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Meter records request metrics. Nil uses the global provider.
	Meter metric.Meter
}

// Server provides HTTP endpoints for dialogd.
type Server struct {
	echo       *echo.Echo
	searcher   index.Searcher
	newSession SessionFactory
	logger     *zap.Logger
	config     *Config
	metrics    *serverMetrics

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// session serializes mutations of one IndexingLog.
type session struct {
	mu  sync.Mutex
	log *conversation.IndexingLog
}

// NewServer creates a new HTTP server.
func NewServer(searcher index.Searcher, newSession SessionFactory, logger *zap.Logger, cfg *Config) (*Server, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if newSession == nil {
		return nil, fmt.Errorf("session factory cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := newServerMetrics(cfg.Meter, logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		searcher:   searcher,
		newSession: newSession,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		sessions:   make(map[string]*session),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/search", s.handleSearch)
	v1.POST("/sessions/:id/events", s.handleEvent)
	v1.POST("/sessions/:id/flush", s.handleFlush)
	v1.GET("/sessions/:id", s.handleTranscript)
	v1.DELETE("/sessions/:id", s.handleCloseSession)
}

// EventRequest is the request body for POST /api/v1/sessions/:id/events.
type EventRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// EventResponse reports the session's current turn after an event.
type EventResponse struct {
	Turn *conversation.Turn `json:"turn,omitempty"`
	// Finalized is set for finalize events that finalized a turn.
	Finalized bool `json:"finalized,omitempty"`
}

// TranscriptResponse is the response body for GET /api/v1/sessions/:id.
type TranscriptResponse struct {
	SessionID string                 `json:"session_id"`
	Messages  []conversation.Message `json:"messages"`
	Turns     []conversation.Turn    `json:"turns"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Hits []index.Hit `json:"hits"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sessions: n})
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	limit := defaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}

	hits, err := s.searcher.Search(c.Request().Context(), query, limit)
	switch {
	case errors.Is(err, index.ErrEmptyQuery), errors.Is(err, index.ErrInvalidLimit):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	s.metrics.searched(c.Request().Context(), len(hits))
	return c.JSON(http.StatusOK, SearchResponse{Hits: hits})
}

func (s *Server) handleEvent(c echo.Context) error {
	ctx := c.Request().Context()
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid event request", zap.Error(err))
		s.metrics.event(ctx, "unknown", outcomeRejected)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Type {
	case EventUser, EventAssistant, EventFinalize:
	default:
		s.metrics.event(ctx, "unknown", outcomeRejected)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type))
	}

	sess, err := s.session(ctx, c.Param("id"), true)
	if err != nil {
		s.metrics.event(ctx, req.Type, outcomeRejected)
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	var resp EventResponse
	switch req.Type {
	case EventUser:
		sess.log.AppendUserMessage(req.Text)
	case EventAssistant:
		if err := sess.log.AppendAssistantMessage(req.Text); err != nil {
			if errors.Is(err, conversation.ErrInvalidState) {
				s.metrics.event(ctx, req.Type, outcomeConflict)
				return echo.NewHTTPError(http.StatusConflict, err.Error())
			}
			s.metrics.event(ctx, req.Type, outcomeRejected)
			return err
		}
	case EventFinalize:
		resp.Finalized = sess.log.FinalizeCurrentUserMessage()
	}
	s.metrics.event(ctx, req.Type, outcomeApplied)

	if t, ok := sess.log.CurrentTurn(); ok {
		resp.Turn = &t
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFlush(c echo.Context) error {
	sess, err := s.session(c.Request().Context(), c.Param("id"), false)
	if err != nil {
		return err
	}
	if err := sess.log.Flush(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "flush interrupted")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTranscript(c echo.Context) error {
	sess, err := s.session(c.Request().Context(), c.Param("id"), false)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return c.JSON(http.StatusOK, TranscriptResponse{
		SessionID: sess.log.SessionID(),
		Messages:  sess.log.Messages(),
		Turns:     sess.log.Turns(),
	})
}

func (s *Server) handleCloseSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	s.metrics.sessionsClosed(c.Request().Context(), 1)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.log.Close(c.Request().Context()); err != nil {
		s.logger.Warn("session drain interrupted", zap.String("session.id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "drain interrupted")
	}
	return c.NoContent(http.StatusNoContent)
}

// session looks up id, creating the session when create is set.
func (s *Server) session(ctx context.Context, id string, create bool) (*session, error) {
	if err := logging.ValidateSessionID(id); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if !create {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if s.closed {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "server shutting down")
	}

	sess := &session{log: s.newSession(id)}
	s.sessions[id] = sess
	s.metrics.sessionsOpened(ctx, 1)
	s.logger.Info("session started", logging.ContextFields(logging.WithSessionID(ctx, id))...)
	return sess, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests, then drains every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	err := s.echo.Shutdown(ctx)

	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	s.metrics.sessionsClosed(ctx, len(sessions))

	errs := []error{err}
	for id, sess := range sessions {
		sess.mu.Lock()
		if cerr := sess.log.Close(ctx); cerr != nil {
			errs = append(errs, fmt.Errorf("draining session %s: %w", id, cerr))
		}
		sess.mu.Unlock()
	}
	return errors.Join(errs...)
}
