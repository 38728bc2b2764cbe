package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/scheduler"
)

// Controller is the monitoring control surface served over HTTP
type Controller interface {
	Start(interval time.Duration) error
	Stop() error
	RunOnce(ctx context.Context) (*model.CycleResult, error)
	Status() model.MonitoringRunState
}

type startRequest struct {
	Interval string `json:"interval"`
}

type statusResponse struct {
	IsRunning      bool       `json:"is_running"`
	Interval       string     `json:"interval,omitempty"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
	NextCycleAt    *time.Time `json:"next_cycle_at,omitempty"`
	TotalCyclesRun int        `json:"total_cycles_run"`
	SkippedCycles  int        `json:"skipped_cycles"`
	LastError      string     `json:"last_error,omitempty"`
}

func newStatusResponse(state model.MonitoringRunState) statusResponse {
	resp := statusResponse{
		IsRunning:      state.IsRunning,
		LastCycleAt:    state.LastCycleAt,
		NextCycleAt:    state.NextCycleAt,
		TotalCyclesRun: state.TotalCyclesRun,
		SkippedCycles:  state.SkippedCycles,
		LastError:      state.LastError,
	}
	if state.Interval > 0 {
		resp.Interval = state.Interval.String()
	}
	return resp
}

// Server exposes start, stop, run-once and status plus health and metrics
type Server struct {
	logger          *zap.Logger
	controller      Controller
	defaultInterval time.Duration
	router          *gin.Engine
}

// NewServer builds the router. metrics may be nil.
func NewServer(logger *zap.Logger, controller Controller, defaultInterval time.Duration, metrics http.Handler) *Server {
	s := &Server{
		logger:          logger.Named("api"),
		controller:      controller,
		defaultInterval: defaultInterval,
		router:          gin.New(),
	}

	s.router.Use(gin.Recovery(), s.requestLogger())

	monitoring := s.router.Group("/monitoring")
	{
		monitoring.POST("/start", s.start)
		monitoring.POST("/stop", s.stop)
		monitoring.POST("/run", s.runOnce)
		monitoring.GET("/status", s.status)
	}

	s.router.GET("/healthz", s.health)
	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) start(c *gin.Context) {
	interval := s.defaultInterval

	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Interval != "" {
		parsed, err := time.ParseDuration(req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval format"})
			return
		}
		interval = parsed
	}

	if err := s.controller.Start(interval); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(s.controller.Status()))
}

func (s *Server) stop(c *gin.Context) {
	if err := s.controller.Stop(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(s.controller.Status()))
}

func (s *Server) runOnce(c *gin.Context) {
	result, err := s.controller.RunOnce(c.Request.Context())
	if err != nil {
		s.logger.Error("On-demand cycle failed", zap.Error(err))
		body := gin.H{"error": err.Error()}
		if result != nil {
			body["result"] = result
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusResponse(s.controller.Status()))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrInvalidInterval):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Monitoring control failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
