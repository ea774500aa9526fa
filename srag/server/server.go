// Package server is the HTTP front door for the analyst service.
package server

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	"github.com/ZanzyTHEbar/srag-analyst/srag/analyst"
	"github.com/ZanzyTHEbar/srag-analyst/srag/config"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// Analyst is the application service the handlers call.
type Analyst interface {
	Chat(ctx context.Context, query string) (*analyst.Answer, error)
	Report(ctx context.Context, focusArea string) (*analyst.Answer, error)
}

// ChatRequest is the body of POST /api/v1/agent/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

// ReportRequest is the body of POST /api/v1/agent/report.
type ReportRequest struct {
	FocusArea string `json:"focus_area"`
}

// Server wires the routes onto a hertz engine.
type Server struct {
	h        *server.Hertz
	analyst  Analyst
	deps     *store.DependencyContext
	plotsDir string
	timeout  time.Duration
	metrics  *metrics.Metrics // optional
	logger   zerolog.Logger
}

// New builds the server and registers every route.
func New(cfg config.ServerConfig, svc Analyst, deps *store.DependencyContext, plotsDir string, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		h:        server.Default(server.WithHostPorts(cfg.Addr)),
		analyst:  svc,
		deps:     deps,
		plotsDir: plotsDir,
		timeout:  cfg.RequestTimeout,
		metrics:  m,
		logger:   logger,
	}

	s.h.Use(s.accessLog())
	s.h.GET("/health", s.health)
	if m != nil {
		s.h.GET("/metrics", s.exportMetrics)
	}

	v1 := s.h.Group("/api/v1")
	v1.POST("/agent/chat", s.chat)
	v1.POST("/agent/report", s.report)
	v1.GET("/plots/:filename", s.plot)
	return s
}

// Hertz exposes the underlying engine.
func (s *Server) Hertz() *server.Hertz { return s.h }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.h.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.h.Shutdown(shutdownCtx)
	}
}

func (s *Server) chat(ctx context.Context, c *app.RequestContext) {
	var req ChatRequest
	if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "BadRequest", "detail": "query is required"})
		return
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ans, err := s.analyst.Chat(ctx, req.Query)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, ans)
}

func (s *Server) report(ctx context.Context, c *app.RequestContext) {
	var req ReportRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "BadRequest", "detail": err.Error()})
			return
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ans, err := s.analyst.Report(ctx, req.FocusArea)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, ans)
}

func (s *Server) plot(_ context.Context, c *app.RequestContext) {
	name := c.Param("filename")
	if !ValidPlotName(name) {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "BadRequest", "detail": "invalid plot filename"})
		return
	}

	path := filepath.Join(s.plotsDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(consts.StatusNotFound, utils.H{"error": "NotFound", "detail": "plot not found"})
		return
	}
	c.File(path)
}

func (s *Server) health(ctx context.Context, c *app.RequestContext) {
	ready := s.deps != nil && s.deps.Verify(ctx) == nil
	c.JSON(consts.StatusOK, utils.H{"status": "ok", "db_ready": ready})
}

func (s *Server) exportMetrics(_ context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := s.metrics.WritePrometheus(&buf); err != nil {
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Server) fail(c *app.RequestContext, err error) {
	status, kind, detail := StatusFor(err)
	if status >= consts.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	c.JSON(status, utils.H{"error": kind, "detail": detail})
}

// StatusFor maps a run failure onto an HTTP status, an error kind and a detail message.
func StatusFor(err error) (int, string, string) {
	detail := err.Error()
	var runErr *harness.RunError
	if errors.As(err, &runErr) {
		detail = runErr.Reason
	}

	switch {
	case errors.Is(err, harness.ErrPolicyViolation):
		return consts.StatusUnprocessableEntity, harness.KindPolicyViolation.String(), detail
	case errors.Is(err, harness.ErrStoreUnavailable):
		return consts.StatusServiceUnavailable, harness.KindStoreUnavailable.String(), detail
	case errors.Is(err, harness.ErrUpstreamProvider):
		return consts.StatusBadGateway, harness.KindUpstreamProvider.String(), detail
	case errors.Is(err, harness.ErrTurnLimitExceeded):
		return consts.StatusInternalServerError, harness.KindTurnLimitExceeded.String(), detail
	case errors.Is(err, context.DeadlineExceeded):
		return consts.StatusGatewayTimeout, "Timeout", detail
	default:
		return consts.StatusInternalServerError, harness.KindInternal.String(), detail
	}
}

// ValidPlotName accepts bare chart filenames only.
func ValidPlotName(name string) bool {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(name), internal.DefaultChartExtension)
}

func (s *Server) accessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)

		status := c.Response.StatusCode()
		event := s.logger.Info()
		if status >= consts.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
