package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor/pkg/api"
)

var (
	ErrDeliverCallback   = errors.New("failed to deliver callback")
	ErrDeliverTaskResult = errors.New("failed to deliver task result")
)

func (s *Server) handleCallback(c *gin.Context) {
	id := api.CorrelationID(c.Param("correlationID"))

	var req api.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.engine.HandleCallback(
		c.Request.Context(), id, req.Data,
	); err != nil {
		abortWithError(c, ErrDeliverCallback, err)
		return
	}

	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: "Callback accepted",
	})
}

func (s *Server) handleTaskResult(c *gin.Context) {
	id := api.TaskID(c.Param("taskID"))

	var req api.TaskResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.engine.HandleTaskResult(
		c.Request.Context(), id, req.Result,
	); err != nil {
		abortWithError(c, ErrDeliverTaskResult, err)
		return
	}

	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: "Task result accepted",
	})
}
