package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kode4food/conductor/internal/archive"
	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Server implements the HTTP API server for the engine
	Server struct {
		engine   *engine.Engine
		archive  ArchiveReader
		gatherer prometheus.Gatherer
		sockets  util.Set[*Client]
		mu       sync.Mutex
	}

	// ArchiveReader reads plan executions moved out of the event stores
	ArchiveReader interface {
		Get(context.Context, api.PlanExecutionID) (*archive.Record, error)
		List(context.Context) ([]api.PlanExecutionID, error)
	}
)

var (
	ErrGetEngineState = errors.New("failed to get engine state")
	ErrInvalidJSON    = errors.New("invalid JSON")
)

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine) *Server {
	return &Server{
		engine:  eng,
		sockets: util.Set[*Client]{},
	}
}

// WithArchive enables the archive endpoints
func (s *Server) WithArchive(a ArchiveReader) *Server {
	s.archive = a
	return s
}

// WithMetrics exposes the gatherer's metrics at /metrics
func (s *Server) WithMetrics(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}),
		))
	}

	eng := router.Group("/engine")
	{
		eng.GET("", s.handleEngine)
		eng.GET("/", s.handleEngine)

		// Plan executions
		eng.GET("/plan", s.listPlans)
		eng.POST("/plan", s.startPlan)
		eng.GET("/plan/:planID", s.getPlan)
		eng.GET("/plan/:planID/node", s.listNodes)
		eng.GET("/plan/:planID/node/:nodeID", s.getNode)
		eng.GET("/plan/:planID/node/:nodeID/children", s.listChildren)
		eng.POST("/plan/:planID/interrupt", s.registerInterrupt)

		// Asynchronous completions
		eng.POST("/callback/:correlationID", s.handleCallback)
		eng.POST("/task/:taskID/result", s.handleTaskResult)

		// Resource units
		eng.GET("/restraint", s.listUnits)
		eng.GET("/restraint/:unit", s.getUnit)
		eng.PUT("/restraint/:unit", s.setCapacity)

		// Archive
		eng.GET("/archive", s.listArchived)
		eng.GET("/archive/:planID", s.getArchived)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleEngine(c *gin.Context) {
	engState, err := s.engine.GetEngineState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetEngineState, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, engState)
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := s.sockets.Slice()
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// errorStatus maps engine errors to the HTTP status reported for them
func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrPlanNotFound),
		errors.Is(err, engine.ErrNodeNotFound),
		errors.Is(err, archive.ErrNotArchived):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPlanExists),
		errors.Is(err, engine.ErrInterruptNotAllowed),
		errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, api.ErrInvalidPlan),
		errors.Is(err, api.ErrInvalidInterrupt),
		errors.Is(err, api.ErrUnknownPlanFormat):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, base error, err error) {
	status := errorStatus(err)
	c.JSON(status, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %v", base, err),
		Status: status,
	})
}
