package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor/internal/restraint"
	"github.com/kode4food/conductor/pkg/api"
)

var (
	ErrUnitNotFound = errors.New("resource unit not found")
	ErrSetCapacity  = errors.New("failed to set capacity")
)

func (s *Server) listUnits(c *gin.Context) {
	units := s.engine.RestraintUnits()
	c.JSON(http.StatusOK, api.UnitsListResponse{
		Units: units,
		Count: len(units),
	})
}

func (s *Server) getUnit(c *gin.Context) {
	unit := api.ResourceUnit(c.Param("unit"))

	for _, u := range s.engine.RestraintUnits() {
		if u.Unit == unit {
			c.JSON(http.StatusOK, u)
			return
		}
	}

	c.JSON(http.StatusNotFound, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %s", ErrUnitNotFound, unit),
		Status: http.StatusNotFound,
	})
}

func (s *Server) setCapacity(c *gin.Context) {
	unit := api.ResourceUnit(c.Param("unit"))

	var req api.CapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.SetRestraintCapacity(
		c.Request.Context(), unit, req.Capacity,
	)
	if errors.Is(err, restraint.ErrInvalidCapacity) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrSetCapacity, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if err != nil {
		abortWithError(c, ErrSetCapacity, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("Capacity of %s set to %d", unit, req.Capacity),
	})
}
