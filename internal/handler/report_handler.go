package handler

import (
	"net/http"

	"expensehub/internal/middleware"
	"expensehub/internal/service"
	"expensehub/pkg/pagination"
	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reportService service.ReportService
}

func NewReportHandler(reportService service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

func (h *ReportHandler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/api/reports")
	reports.Use(middleware.Authenticate())
	{
		reports.POST("", middleware.RequirePermission("expense.submit"), h.CreateDraft)
		reports.POST("/:id/lines", middleware.RequirePermission("expense.submit"), h.AddLine)
		reports.GET("", middleware.RequirePermission("expense.read"), h.ListMyReports)
		reports.GET("/:id", middleware.RequirePermission("expense.read"), h.GetReport)
		reports.GET("/:id/workflow-status", middleware.RequirePermission("expense.read"), h.GetWorkflowStatus)

		reports.POST("/:id/submit", middleware.RequirePermission("expense.submit"), h.Submit)
		reports.POST("/:id/withdraw", middleware.RequirePermission("expense.submit"), h.Withdraw)

		reports.POST("/:id/approve", middleware.RequirePermission("expense.approve"), h.Approve)
		reports.POST("/:id/reject", middleware.RequirePermission("expense.approve"), h.Reject)
		reports.POST("/:id/return", middleware.RequirePermission("expense.approve"), h.Return)
	}
}

// CreateDraft creates an empty draft report for the authenticated user
// @Summary      Create draft report
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateReportRequest  true  "Draft details"
// @Success      201      {object}  response.Response
// @Router       /api/reports [post]
func (h *ReportHandler) CreateDraft(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	var req service.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	report, err := h.reportService.CreateDraft(c.Request.Context(), userID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, report))
}

// AddLine appends an expense line to a draft report
// @Summary      Add expense line
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true  "Report ID"
// @Param        payload  body      service.AddLineRequest  true  "Line details"
// @Success      201      {object}  response.Response
// @Router       /api/reports/{id}/lines [post]
func (h *ReportHandler) AddLine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	var req service.AddLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	line, err := h.reportService.AddLine(c.Request.Context(), reportID, userID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, line))
}

// ListMyReports returns the authenticated user's reports
// @Summary      List own reports
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response
// @Router       /api/reports [get]
func (h *ReportHandler) ListMyReports(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	params := pagination.Parse(c)
	reports, total, err := h.reportService.ListMyReports(c.Request.Context(), userID, params.Page, params.Limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"reports": reports,
		"total":   total,
		"page":    params.Page,
		"limit":   params.Limit,
	}))
}

// GetReport returns a single report with its lines
// @Summary      Get report
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Report ID"
// @Success      200  {object}  response.Response
// @Router       /api/reports/{id} [get]
func (h *ReportHandler) GetReport(c *gin.Context) {
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	report, err := h.reportService.GetReport(c.Request.Context(), reportID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// GetWorkflowStatus returns the report's position in its approval workflow
// @Summary      Get workflow status
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Report ID"
// @Success      200  {object}  response.Response
// @Router       /api/reports/{id}/workflow-status [get]
func (h *ReportHandler) GetWorkflowStatus(c *gin.Context) {
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	status, err := h.reportService.GetWorkflowStatus(c.Request.Context(), reportID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, status))
}

// Submit moves a draft or returned report into its approval workflow
// @Summary      Submit report
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Report ID"
// @Success      200  {object}  response.Response
// @Router       /api/reports/{id}/submit [post]
func (h *ReportHandler) Submit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	report, err := h.reportService.Submit(c.Request.Context(), reportID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

type actionRequest struct {
	Comment string `json:"comment"`
}

// Approve approves the report's current workflow step
// @Summary      Approve report
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string         true   "Report ID"
// @Param        payload  body      actionRequest  false  "Optional comment"
// @Success      200      {object}  response.Response
// @Router       /api/reports/{id}/approve [post]
func (h *ReportHandler) Approve(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	var req actionRequest
	_ = c.ShouldBindJSON(&req)

	report, err := h.reportService.Approve(c.Request.Context(), reportID, actor, req.Comment)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// Reject terminally rejects the report
// @Summary      Reject report
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true  "Report ID"
// @Param        payload  body      service.RejectRequest  true  "Rejection reason"
// @Success      200      {object}  response.Response
// @Router       /api/reports/{id}/reject [post]
func (h *ReportHandler) Reject(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	var req service.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	report, err := h.reportService.Reject(c.Request.Context(), reportID, actor, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// Return sends the report back to its submitter for rework
// @Summary      Return report
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string         true   "Report ID"
// @Param        payload  body      actionRequest  false  "Optional comment"
// @Success      200      {object}  response.Response
// @Router       /api/reports/{id}/return [post]
func (h *ReportHandler) Return(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	var req actionRequest
	_ = c.ShouldBindJSON(&req)

	report, err := h.reportService.Return(c.Request.Context(), reportID, actor, req.Comment)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// Withdraw pulls a submitted report back to draft
// @Summary      Withdraw report
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Report ID"
// @Success      200  {object}  response.Response
// @Router       /api/reports/{id}/withdraw [post]
func (h *ReportHandler) Withdraw(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}
	reportID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid report ID"))
		return
	}

	report, err := h.reportService.Withdraw(c.Request.Context(), reportID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}
