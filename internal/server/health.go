package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor"
	"github.com/kode4food/conductor/pkg/api"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := statusHealthy
	code := http.StatusOK
	if _, err := s.engine.GetEngineState(c.Request.Context()); err != nil {
		status = statusUnhealthy
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, api.HealthResponse{
		Service: conductor.Name,
		Status:  status,
		Version: conductor.Version,
	})
}
