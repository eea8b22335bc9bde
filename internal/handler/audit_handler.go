package handler

import (
	"net/http"
	"time"

	"expensehub/internal/middleware"
	"expensehub/internal/repository"
	"expensehub/internal/service"
	"expensehub/pkg/pagination"
	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(middleware.Authenticate())
	{
		group.GET("", middleware.RequirePermission("audit.read"), h.GetAuditLogs)
		group.GET("/resource/:type/:id", middleware.RequirePermission("audit.read"), h.GetResourceHistory)
		group.GET("/verify", middleware.RequirePermission("audit.read"), h.VerifyChain)
		group.POST("/export", middleware.RequirePermission("audit.export"), h.Export)
	}
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAuditLogs returns ledger entries filtered by actor, action, resource and time range
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page           query     int     false  "Page number (default 1)"
// @Param        limit          query     int     false  "Items per page (default 20)"
// @Param        actor_id       query     string  false  "Filter by actor"
// @Param        action         query     string  false  "Filter by action"
// @Param        resource_type  query     string  false  "Filter by resource type"
// @Param        resource_id    query     string  false  "Filter by resource ID"
// @Param        sensitive      query     bool    false  "Only sensitive events"
// @Param        start          query     string  false  "Start of range (RFC3339)"
// @Param        end            query     string  false  "End of range (RFC3339)"
// @Success      200            {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	params := pagination.Parse(c)

	start, err := parseTimeQuery(c, "start")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid start time, expected RFC3339"))
		return
	}
	end, err := parseTimeQuery(c, "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid end time, expected RFC3339"))
		return
	}

	filter := repository.AuditFilter{
		ActorID:       c.Query("actor_id"),
		Action:        c.Query("action"),
		ResourceType:  c.Query("resource_type"),
		ResourceID:    c.Query("resource_id"),
		SensitiveOnly: c.Query("sensitive") == "true",
		StartDate:     start,
		EndDate:       end,
		Page:          params.Page,
		Limit:         params.Limit,
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
		"page":  params.Page,
		"limit": params.Limit,
	}))
}

// GetResourceHistory returns the full event trail for one resource
// @Summary      Get resource history
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        type  path      string  true  "Resource type"
// @Param        id    path      string  true  "Resource ID"
// @Success      200   {object}  response.Response
// @Router       /api/audit-logs/resource/{type}/{id} [get]
func (h *AuditHandler) GetResourceHistory(c *gin.Context) {
	entries, err := h.auditService.GetResourceHistory(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// VerifyChain recomputes the hash chain over a time range and reports violations
// @Summary      Verify ledger integrity
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        start  query     string  false  "Start of range (RFC3339)"
// @Param        end    query     string  false  "End of range (RFC3339)"
// @Success      200    {object}  response.Response
// @Router       /api/audit-logs/verify [get]
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	start, err := parseTimeQuery(c, "start")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid start time, expected RFC3339"))
		return
	}
	end, err := parseTimeQuery(c, "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid end time, expected RFC3339"))
		return
	}

	verification, err := h.auditService.VerifyChainIntegrity(c.Request.Context(), start, end)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, verification))
}

// Export returns a signed-off dump of the ledger. The export itself lands in
// the ledger as a sensitive event.
// @Summary      Export audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        start  query     string  false  "Start of range (RFC3339)"
// @Param        end    query     string  false  "End of range (RFC3339)"
// @Success      200    {object}  response.Response
// @Router       /api/audit-logs/export [post]
func (h *AuditHandler) Export(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	start, err := parseTimeQuery(c, "start")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid start time, expected RFC3339"))
		return
	}
	end, err := parseTimeQuery(c, "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid end time, expected RFC3339"))
		return
	}

	export, err := h.auditService.ExportAuditLogs(c.Request.Context(), &actorID, start, end)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, export))
}
