// Package httpapi serves the read-only localhost API behind
// 'kodo serve'.
//
// Every route is a GET over records this process already holds;
// writes stay with the CLI commands. Query responses are cached
// briefly to absorb repeated editor polling, and the index keeps its
// usual weaker consistency: records written by other processes appear
// after the next rebuild.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/config"
	"github.com/paxtone-io/openkodo/internal/contextgen"
	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

// DefaultAddr is used when the config leaves server.addr empty.
const DefaultAddr = "127.0.0.1:7433"

// Query responses stay cached this long before a fresh search runs.
const (
	queryCacheTTL   = 30 * time.Second
	queryCacheSweep = 5 * time.Minute
)

// Options configures the server.
type Options struct {
	// Records, Index and Generator are required.
	Records   *store.Store
	Index     *index.Index
	Generator *contextgen.Generator

	Config config.ServerConfig
	Logger *zap.Logger
}

// Server is the read-only HTTP facade over a project's records.
type Server struct {
	echo      *echo.Echo
	records   *store.Store
	index     *index.Index
	generator *contextgen.Generator
	cache     *gocache.Cache
	metrics   *metrics
	logger    *zap.Logger
	addr      string
}

// New creates the server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Records == nil {
		return nil, errors.New("httpapi: Records is required")
	}
	if opts.Index == nil {
		return nil, errors.New("httpapi: Index is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("httpapi: Generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := opts.Config.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			logger.Warn("serving on a non-loopback address", zap.String("addr", addr))
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		records:   opts.Records,
		index:     opts.Index,
		generator: opts.Generator,
		cache:     gocache.New(queryCacheTTL, queryCacheSweep),
		metrics:   newMetrics(),
		logger:    logger,
		addr:      addr,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/query", s.handleQuery)
	v1.GET("/context", s.handleContext)
	v1.GET("/learnings", s.handleListLearnings)
	v1.GET("/learnings/:id", s.handleGetLearning)
	v1.GET("/entries", s.handleListEntries)
	v1.GET("/status", s.handleStatus)
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// QueryResponse is the body of GET /api/v1/query.
type QueryResponse struct {
	Query   string               `json:"query"`
	Count   int                  `json:"count"`
	Results []index.RankedResult `json:"results"`
}

func (s *Server) handleQuery(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))

	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	minScore, err := floatParam(c, "min_score")
	if err != nil {
		return err
	}
	opts := index.SearchOptions{
		Limit:          limit,
		MinScore:       minScore,
		AgentScope:     c.QueryParam("agent"),
		IncludePending: c.QueryParam("pending") == "true",
	}

	key := fmt.Sprintf("%s|%d|%g|%s|%t", q, opts.Limit, opts.MinScore, opts.AgentScope, opts.IncludePending)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.cacheHits.Inc()
		return c.JSON(http.StatusOK, cached)
	}
	s.metrics.cacheMisses.Inc()

	results, err := s.index.Search(c.Request().Context(), q, opts)
	if err != nil {
		s.logger.Error("query failed", zap.String("query", q), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if results == nil {
		results = []index.RankedResult{}
	}

	resp := &QueryResponse{Query: q, Count: len(results), Results: results}
	s.cache.Set(key, resp, gocache.DefaultExpiration)
	return c.JSON(http.StatusOK, resp)
}

// ContextResponse is the body of GET /api/v1/context: the bundle plus
// its rendered markdown.
type ContextResponse struct {
	*contextgen.Bundle
	Markdown string `json:"markdown"`
}

func (s *Server) handleContext(c echo.Context) error {
	detail := contextgen.Detail(c.QueryParam("detail"))
	if detail != "" && !detail.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown detail level %q", detail))
	}
	maxItems, err := intParam(c, "max_items")
	if err != nil {
		return err
	}
	minScore, err := floatParam(c, "min_score")
	if err != nil {
		return err
	}

	req := contextgen.Request{
		Prompt:     c.QueryParam("prompt"),
		Files:      splitList(c.QueryParam("files")),
		MaxItems:   maxItems,
		MinScore:   minScore,
		AgentScope: c.QueryParam("agent"),
		Detail:     detail,
	}
	bundle, err := s.generator.Generate(c.Request().Context(), req)
	if err != nil {
		s.logger.Error("context generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "context generation failed")
	}
	return c.JSON(http.StatusOK, ContextResponse{Bundle: bundle, Markdown: bundle.Markdown()})
}

// LearningsResponse is the body of GET /api/v1/learnings.
type LearningsResponse struct {
	Count     int               `json:"count"`
	Learnings []*store.Learning `json:"learnings"`
}

func (s *Server) handleListLearnings(c echo.Context) error {
	var filter store.LearningFilter
	if raw := c.QueryParam("category"); raw != "" {
		category := store.Category(raw)
		if !store.IsValidCategory(category) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown category %q", raw))
		}
		filter.Category = &category
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := store.Status(raw)
		if !store.IsValidStatus(status) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
		}
		filter.Statuses = []store.Status{status}
	}

	learnings, err := s.records.ListLearnings(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("listing learnings failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing learnings failed")
	}
	return c.JSON(http.StatusOK, LearningsResponse{Count: len(learnings), Learnings: learnings})
}

func (s *Server) handleGetLearning(c echo.Context) error {
	id := c.Param("id")
	learning, err := s.records.GetLearning(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("learning %s not found", id))
		}
		s.logger.Error("loading learning failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading learning failed")
	}
	return c.JSON(http.StatusOK, learning)
}

// EntriesResponse is the body of GET /api/v1/entries.
type EntriesResponse struct {
	Count   int                   `json:"count"`
	Entries []*store.ContextEntry `json:"entries"`
}

func (s *Server) handleListEntries(c echo.Context) error {
	entries, err := s.records.ListEntries(c.Request().Context())
	if err != nil {
		s.logger.Error("listing entries failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing entries failed")
	}
	return c.JSON(http.StatusOK, EntriesResponse{Count: len(entries), Entries: entries})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Index *index.Status `json:"index"`
	Store *store.Stats  `json:"store"`
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	idx, err := s.index.Status(ctx)
	if err != nil {
		s.logger.Error("index status failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "index status failed")
	}
	stats, err := s.records.Stats(ctx)
	if err != nil {
		s.logger.Error("store stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "store stats failed")
	}
	return c.JSON(http.StatusOK, StatusResponse{Index: idx, Store: stats})
}

// intParam parses an optional non-negative integer query parameter.
func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return v, nil
}

// floatParam parses an optional non-negative float query parameter.
func floatParam(c echo.Context, name string) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return v, nil
}

// splitList splits a comma-separated parameter, dropping empties.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
