package handler

import (
	"net/http"

	"expensehub/internal/middleware"
	"expensehub/internal/service"
	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RoleHandler struct {
	roleService service.RoleService
	permService service.PermissionService
	sodService  service.SodService
}

func NewRoleHandler(roleService service.RoleService, permService service.PermissionService, sodService service.SodService) *RoleHandler {
	return &RoleHandler{roleService: roleService, permService: permService, sodService: sodService}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/api/roles")
	roles.Use(middleware.Authenticate())
	{
		roles.GET("", middleware.RequirePermission("roles.read"), h.ListRoles)
		roles.GET("/:id", middleware.RequirePermission("roles.read"), h.GetRole)
		roles.POST("", middleware.RequirePermission("roles.manage"), h.CreateRole)
		roles.PUT("/:id", middleware.RequirePermission("roles.manage"), h.UpdateRole)
		roles.DELETE("/:id", middleware.RequirePermission("roles.manage"), h.DeleteRole)
		roles.PUT("/:id/permissions", middleware.RequirePermission("roles.manage"), h.UpdateRolePermissions)
	}

	perms := router.Group("/api/permissions")
	perms.Use(middleware.Authenticate())
	{
		perms.GET("", middleware.RequirePermission("roles.read"), h.ListPermissions)
		perms.POST("", middleware.RequirePermission("roles.manage"), h.CreatePermission)
		perms.PUT("/:id", middleware.RequirePermission("roles.manage"), h.UpdatePermission)
		perms.DELETE("/:id", middleware.RequirePermission("roles.manage"), h.DeletePermission)
	}

	userRoles := router.Group("/api/users/:id/roles")
	userRoles.Use(middleware.Authenticate(), middleware.RequirePermission("roles.manage"))
	{
		userRoles.GET("", h.GetUserRoles)
		userRoles.POST("/:roleId", h.AssignRole)
		userRoles.DELETE("/:roleId", h.RemoveRole)
		userRoles.PUT("", h.SetUserRoles)
	}

	sod := router.Group("/api/sod-rules")
	sod.Use(middleware.Authenticate(), middleware.RequirePermission("sod.manage"))
	{
		sod.GET("", h.ListSodRules)
		sod.POST("", h.CreateSodRule)
		sod.PUT("/:id/active", h.SetSodRuleActive)
		sod.POST("/validate", h.ValidateSod)
	}
}

// --- Roles ---

// ListRoles returns all roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// GetRole returns a single role by ID
func (h *RoleHandler) GetRole(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}
	role, err := h.roleService.GetRole(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// CreateRole creates a new custom role
// @Summary      Create role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateRoleRequest  true  "Role details"
// @Success      201      {object}  response.Response
// @Router       /api/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), req, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole updates a role's description and active flag
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	actorID, _ := currentUserID(c)
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}

	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), id, req, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole removes a non-system role
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	actorID, _ := currentUserID(c)
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}

	if err := h.roleService.DeleteRole(c.Request.Context(), id, actorID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

// UpdateRolePermissions replaces a role's permission set. Returns 409 with the
// violation list when the change would create an SoD conflict for any holder.
// @Summary      Replace role permissions
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Role ID"
// @Param        payload  body      updateRolePermissionsRequest  true  "Permission names"
// @Success      200      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/roles/{id}/permissions [put]
func (h *RoleHandler) UpdateRolePermissions(c *gin.Context) {
	actorID, _ := currentUserID(c)
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}

	var req updateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, sodResult, err := h.roleService.UpdateRolePermissions(c.Request.Context(), id, req.Permissions, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !sodResult.Valid {
		c.JSON(http.StatusConflict, response.Success(http.StatusConflict, sodResult))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"role": role, "sod": sodResult}))
}

// --- Permissions ---

// ListPermissions returns the permission catalog
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.permService.ListPermissions(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

// CreatePermission adds a permission to the catalog
func (h *RoleHandler) CreatePermission(c *gin.Context) {
	actorID, _ := currentUserID(c)

	var req service.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	perm, err := h.permService.CreatePermission(c.Request.Context(), req, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, perm))
}

// UpdatePermission edits an unreferenced permission
func (h *RoleHandler) UpdatePermission(c *gin.Context) {
	actorID, _ := currentUserID(c)
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid permission ID"))
		return
	}

	var req service.UpdatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	perm, err := h.permService.UpdatePermission(c.Request.Context(), id, req, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perm))
}

// DeletePermission removes an unreferenced permission
func (h *RoleHandler) DeletePermission(c *gin.Context) {
	actorID, _ := currentUserID(c)
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid permission ID"))
		return
	}

	if err := h.permService.DeletePermission(c.Request.Context(), id, actorID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}

// --- User roles ---

// GetUserRoles lists a user's active roles
func (h *RoleHandler) GetUserRoles(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user ID"))
		return
	}
	roles, err := h.roleService.GetUserRoles(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// AssignRole grants a role to a user after the SoD pre-check
// @Summary      Assign role to user
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id      path      string  true  "User ID"
// @Param        roleId  path      string  true  "Role ID"
// @Success      200     {object}  response.Response
// @Failure      409     {object}  response.Response
// @Router       /api/users/{id}/roles/{roleId} [post]
func (h *RoleHandler) AssignRole(c *gin.Context) {
	actorID, _ := currentUserID(c)
	userID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user ID"))
		return
	}
	roleID, err := parseIDParam(c, "roleId")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}

	sodResult, err := h.roleService.AssignRoleToUser(c.Request.Context(), userID, roleID, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !sodResult.Valid {
		c.JSON(http.StatusConflict, response.Success(http.StatusConflict, sodResult))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, sodResult))
}

// RemoveRole revokes a role from a user
func (h *RoleHandler) RemoveRole(c *gin.Context) {
	actorID, _ := currentUserID(c)
	userID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user ID"))
		return
	}
	roleID, err := parseIDParam(c, "roleId")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid role ID"))
		return
	}

	if err := h.roleService.RemoveRoleFromUser(c.Request.Context(), userID, roleID, actorID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"removed": true}))
}

type setUserRolesRequest struct {
	RoleIDs []uuid.UUID `json:"role_ids" binding:"required"`
}

// SetUserRoles replaces a user's role set atomically
func (h *RoleHandler) SetUserRoles(c *gin.Context) {
	actorID, _ := currentUserID(c)
	userID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user ID"))
		return
	}

	var req setUserRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	sodResult, err := h.roleService.SetUserRoles(c.Request.Context(), userID, req.RoleIDs, actorID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !sodResult.Valid {
		c.JSON(http.StatusConflict, response.Success(http.StatusConflict, sodResult))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, sodResult))
}

// --- SoD rules ---

// ListSodRules returns every separation-of-duties rule
func (h *RoleHandler) ListSodRules(c *gin.Context) {
	rules, err := h.sodService.ListRules(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rules))
}

// CreateSodRule adds a new separation-of-duties rule
func (h *RoleHandler) CreateSodRule(c *gin.Context) {
	var req service.CreateSodRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rule, err := h.sodService.CreateRule(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

type setRuleActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetSodRuleActive toggles a rule without deleting its history
func (h *RoleHandler) SetSodRuleActive(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid rule ID"))
		return
	}

	var req setRuleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.sodService.SetRuleActive(c.Request.Context(), id, *req.Active); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"active": *req.Active}))
}

type validateSodRequest struct {
	Permissions []string  `json:"permissions"`
	UserID      uuid.UUID `json:"user_id"`
}

// ValidateSod dry-runs the SoD rules against a permission set or a user
// @Summary      Validate SoD
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      validateSodRequest  true  "Permissions or user to check"
// @Success      200      {object}  response.Response
// @Router       /api/sod-rules/validate [post]
func (h *RoleHandler) ValidateSod(c *gin.Context) {
	var req validateSodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	var (
		result service.SodResult
		err    error
	)
	if req.UserID != uuid.Nil {
		result, err = h.sodService.ValidateUserSod(c.Request.Context(), req.UserID)
	} else {
		result, err = h.sodService.ValidateSod(c.Request.Context(), req.Permissions)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
