package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor/pkg/api"
)

var ErrRegisterInterrupt = errors.New("failed to register interrupt")

func (s *Server) registerInterrupt(c *gin.Context) {
	planID := api.PlanExecutionID(c.Param("planID"))

	var req api.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	in, err := s.engine.RegisterInterrupt(c.Request.Context(), planID, &req)
	if err != nil {
		abortWithError(c, ErrRegisterInterrupt, err)
		return
	}

	c.JSON(http.StatusOK, api.InterruptResponse{
		InterruptID: in.ID,
		Message:     fmt.Sprintf("Interrupt %s applied", in.Type),
	})
}
