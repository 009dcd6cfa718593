package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/clock"
	"horse.fit/paperfeed/internal/db"
	"horse.fit/paperfeed/internal/feed"
	"horse.fit/paperfeed/internal/ingest"
)

type Importer interface {
	ImportFeed(ctx context.Context, source string, r *feed.Reader, batchSize int) (ingest.FeedSummary, error)
}

type Indexer interface {
	IndexOne(ctx context.Context, uid string) error
	Rebuild(ctx context.Context) (int, error)
}

type Store interface {
	Ping(ctx context.Context) error
	RefreshCommentsCount(ctx context.Context, uid string) (int, error)
	RefreshScitesCount(ctx context.Context, uid string) (int, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	BatchSize       int
	MaxBodyBytes    string
}

// Deps are the collaborators behind the routes. RunLock is shared with any
// other importer in the process; store mutations never overlap.
type Deps struct {
	Store    Store
	Importer Importer
	Indexer  Indexer
	Metrics  http.Handler
	RunLock  *sync.Mutex
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if strings.TrimSpace(opts.MaxBodyBytes) == "" {
		opts.MaxBodyBytes = "256M"
	}
	if deps.RunLock == nil {
		deps.RunLock = &sync.Mutex{}
	}
	return &Server{deps: deps, logger: logger, opts: opts}
}

// Handler builds the echo router.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/imports", s.handleImport, middleware.BodyLimit(s.opts.MaxBodyBytes))
	api.POST("/reindex", s.handleReindex)
	api.POST("/papers/:uid/refresh-counters", s.handleRefreshCounters)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("paperfeed api started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("paperfeed api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return serverError(c, http.StatusServiceUnavailable, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "paperfeed",
		"time":    clock.UTC(),
	})
}

type importResponse struct {
	Batches        int      `json:"batches"`
	Processed      []string `json:"processed"`
	PapersNew      int      `json:"papers_new"`
	PapersExisting int      `json:"papers_existing"`
	Rejected       int      `json:"rejected"`
	SkippedLines   int      `json:"skipped_lines"`
}

func (s *Server) handleImport(c echo.Context) error {
	batchSize := s.opts.BatchSize
	if raw := strings.TrimSpace(c.QueryParam("batch_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return failParam(c, "batch_size", "must be a positive integer")
		}
		batchSize = n
	}

	if !s.deps.RunLock.TryLock() {
		return failRunBusy(c)
	}
	defer s.deps.RunLock.Unlock()

	source := "api:" + c.Response().Header().Get(echo.HeaderXRequestID)
	summary, err := s.deps.Importer.ImportFeed(c.Request().Context(), source, feed.NewReader(c.Request().Body), batchSize)
	if err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("import request failed")
		return internalError(c, "Import failed")
	}

	return success(c, importResponse{
		Batches:        summary.Batches,
		Processed:      summary.Processed,
		PapersNew:      summary.PapersNew,
		PapersExisting: summary.PapersExisting,
		Rejected:       summary.Rejected,
		SkippedLines:   summary.SkippedLines,
	})
}

func (s *Server) handleReindex(c echo.Context) error {
	if !s.deps.RunLock.TryLock() {
		return failRunBusy(c)
	}
	defer s.deps.RunLock.Unlock()

	n, err := s.deps.Indexer.Rebuild(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex failed")
		return internalError(c, "Reindex failed")
	}
	return success(c, map[string]any{"documents": n})
}

func (s *Server) handleRefreshCounters(c echo.Context) error {
	uid, err := url.PathUnescape(strings.TrimSpace(c.Param("uid")))
	if err != nil || uid == "" {
		return failParam(c, "uid", "must be a non-empty paper id")
	}
	ctx := c.Request().Context()

	comments, err := s.deps.Store.RefreshCommentsCount(ctx, uid)
	if db.IsNoRows(err) {
		return failNotFound(c, "Paper not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("paper_uid", uid).Msg("refresh comments count failed")
		return internalError(c, "Failed to refresh counters")
	}
	scites, err := s.deps.Store.RefreshScitesCount(ctx, uid)
	if err != nil {
		s.logger.Error().Err(err).Str("paper_uid", uid).Msg("refresh scites count failed")
		return internalError(c, "Failed to refresh counters")
	}

	indexed := true
	if err := s.deps.Indexer.IndexOne(ctx, uid); err != nil {
		indexed = false
		s.logger.Error().Err(err).Str("paper_uid", uid).Msg("reindex after counter refresh failed")
	}

	return success(c, map[string]any{
		"uid":            uid,
		"comments_count": comments,
		"scites_count":   scites,
		"indexed":        indexed,
	})
}
