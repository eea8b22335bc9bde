package handler

import (
	"net/http"

	"expensehub/internal/middleware"
	"expensehub/internal/service"
	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
)

type WorkflowHandler struct {
	workflowService service.WorkflowService
}

func NewWorkflowHandler(workflowService service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

func (h *WorkflowHandler) RegisterRoutes(router *gin.RouterGroup) {
	workflows := router.Group("/api/workflows")
	workflows.Use(middleware.Authenticate(), middleware.RequirePermission("workflows.manage"))
	{
		workflows.GET("", h.ListWorkflows)
		workflows.GET("/:id", h.GetWorkflow)
		workflows.POST("", h.CreateWorkflow)
		workflows.PUT("/:id", h.UpdateWorkflow)
		workflows.PUT("/:id/active", h.SetWorkflowActive)
	}

	assignments := router.Group("/api/workflow-assignments")
	assignments.Use(middleware.Authenticate(), middleware.RequirePermission("workflows.manage"))
	{
		assignments.GET("", h.ListAssignments)
		assignments.POST("", h.CreateAssignment)
		assignments.DELETE("/:id", h.DeleteAssignment)
	}
}

// ListWorkflows returns every workflow definition, newest version first
// @Summary      List workflows
// @Tags         workflows
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	workflows, err := h.workflowService.ListWorkflows(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, workflows))
}

// GetWorkflow returns a single workflow definition
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid workflow ID"))
		return
	}
	wf, err := h.workflowService.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, wf))
}

// CreateWorkflow validates and stores a new workflow definition
// @Summary      Create workflow
// @Tags         workflows
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.WorkflowRequest  true  "Workflow definition"
// @Success      201      {object}  response.Response
// @Router       /api/workflows [post]
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	var req service.WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	wf, err := h.workflowService.CreateWorkflow(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, wf))
}

// UpdateWorkflow stores a new version of the definition. In-flight reports
// keep the snapshot they took at submission.
func (h *WorkflowHandler) UpdateWorkflow(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid workflow ID"))
		return
	}

	var req service.WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	wf, err := h.workflowService.UpdateWorkflow(c.Request.Context(), id, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, wf))
}

type setWorkflowActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetWorkflowActive toggles whether the resolver may pick this workflow
func (h *WorkflowHandler) SetWorkflowActive(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid workflow ID"))
		return
	}

	var req setWorkflowActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.workflowService.SetWorkflowActive(c.Request.Context(), id, *req.Active); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"active": *req.Active}))
}

// ListAssignments returns assignment rules in resolver priority order
func (h *WorkflowHandler) ListAssignments(c *gin.Context) {
	assignments, err := h.workflowService.ListAssignments(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, assignments))
}

// CreateAssignment adds a routing rule binding report attributes to a workflow
func (h *WorkflowHandler) CreateAssignment(c *gin.Context) {
	var req service.AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	assignment, err := h.workflowService.CreateAssignment(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, assignment))
}

// DeleteAssignment removes a routing rule
func (h *WorkflowHandler) DeleteAssignment(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid assignment ID"))
		return
	}

	if err := h.workflowService.DeleteAssignment(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}
