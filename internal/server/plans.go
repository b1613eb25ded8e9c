package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/pkg/api"
)

var (
	ErrListPlans   = errors.New("failed to list plans")
	ErrGetPlan     = errors.New("failed to get plan execution")
	ErrStartPlan   = errors.New("failed to start plan execution")
	ErrListNodes   = errors.New("failed to list node executions")
	ErrGetNode     = errors.New("failed to get node execution")
	ErrReadPlan    = errors.New("failed to read plan")
	ErrMissingPlan = errors.New("plan is required")
)

const yamlContentType = "yaml"

func (s *Server) listPlans(c *gin.Context) {
	engState, err := s.engine.GetEngineState(c.Request.Context())
	if err != nil {
		abortWithError(c, ErrListPlans, err)
		return
	}

	c.JSON(http.StatusOK, api.PlansListResponse{
		Active: engState.Active,
		Count:  len(engState.Active),
	})
}

func (s *Server) startPlan(c *gin.Context) {
	req, ok := s.readStartRequest(c)
	if !ok {
		return
	}

	opts := []planopt.Applier{planopt.WithSetup(req.SetupAbstractions)}
	if req.ID != "" {
		opts = append(opts, planopt.WithExecutionID(req.ID))
	}

	st, err := s.engine.StartPlan(c.Request.Context(), req.Plan, opts...)
	if err != nil {
		abortWithError(c, ErrStartPlan, err)
		return
	}

	c.JSON(http.StatusCreated, api.PlanStartedResponse{
		Message:         "Plan execution started",
		PlanExecutionID: st.ID,
	})
}

// readStartRequest accepts either a JSON StartPlanRequest or a bare YAML
// plan document. YAML submissions take the execution id from the query
func (s *Server) readStartRequest(
	c *gin.Context,
) (*api.StartPlanRequest, bool) {
	if !strings.Contains(c.ContentType(), yamlContentType) {
		var req api.StartPlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
				Status: http.StatusBadRequest,
			})
			return nil, false
		}
		if req.Plan == nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  ErrMissingPlan.Error(),
				Status: http.StatusBadRequest,
			})
			return nil, false
		}
		return &req, true
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrReadPlan, err),
			Status: http.StatusBadRequest,
		})
		return nil, false
	}
	plan, err := api.ParsePlan(data, api.PlanFormatYAML)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrReadPlan, err),
			Status: http.StatusBadRequest,
		})
		return nil, false
	}
	return &api.StartPlanRequest{
		ID:   api.PlanExecutionID(c.Query("id")),
		Plan: plan,
	}, true
}

func (s *Server) getPlan(c *gin.Context) {
	planID := api.PlanExecutionID(c.Param("planID"))

	st, err := s.engine.GetPlanExecution(c.Request.Context(), planID)
	if err != nil {
		abortWithError(c, ErrGetPlan, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (s *Server) listNodes(c *gin.Context) {
	planID := api.PlanExecutionID(c.Param("planID"))

	nodes, err := s.engine.ListNodeExecutions(c.Request.Context(), planID)
	if err != nil {
		abortWithError(c, ErrListNodes, err)
		return
	}

	c.JSON(http.StatusOK, api.NodesListResponse{
		Nodes: nodes,
		Count: len(nodes),
	})
}

func (s *Server) getNode(c *gin.Context) {
	node, err := s.engine.GetNodeExecution(c.Request.Context(), api.NodeRef{
		PlanExecutionID: api.PlanExecutionID(c.Param("planID")),
		NodeExecutionID: api.NodeExecutionID(c.Param("nodeID")),
	})
	if err != nil {
		abortWithError(c, ErrGetNode, err)
		return
	}

	c.JSON(http.StatusOK, node)
}

func (s *Server) listChildren(c *gin.Context) {
	planID := api.PlanExecutionID(c.Param("planID"))
	nodeID := api.NodeExecutionID(c.Param("nodeID"))

	nodes, err := s.engine.ListChildren(c.Request.Context(), planID, nodeID)
	if err != nil {
		abortWithError(c, ErrListNodes, err)
		return
	}

	c.JSON(http.StatusOK, api.NodesListResponse{
		Nodes: nodes,
		Count: len(nodes),
	})
}
