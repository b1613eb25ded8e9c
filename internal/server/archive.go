package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor/pkg/api"
)

var (
	ErrArchiveDisabled = errors.New("archive not configured")
	ErrReadArchive     = errors.New("failed to read archive")
)

func (s *Server) listArchived(c *gin.Context) {
	if !s.checkArchive(c) {
		return
	}

	ids, err := s.archive.List(c.Request.Context())
	if err != nil {
		abortWithError(c, ErrReadArchive, err)
		return
	}

	c.JSON(http.StatusOK, api.ArchivedListResponse{
		Plans: ids,
		Count: len(ids),
	})
}

func (s *Server) getArchived(c *gin.Context) {
	if !s.checkArchive(c) {
		return
	}

	planID := api.PlanExecutionID(c.Param("planID"))
	rec, err := s.archive.Get(c.Request.Context(), planID)
	if err != nil {
		abortWithError(c, ErrReadArchive, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (s *Server) checkArchive(c *gin.Context) bool {
	if s.archive != nil {
		return true
	}
	c.JSON(http.StatusNotFound, api.ErrorResponse{
		Error:  ErrArchiveDisabled.Error(),
		Status: http.StatusNotFound,
	})
	return false
}
