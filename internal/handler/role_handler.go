package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openroster/roster-api/internal/service"
	appErrors "github.com/openroster/roster-api/pkg/errors"
	"github.com/openroster/roster-api/pkg/response"
)

// RoleHandler exposes role and permission administration endpoints.
type RoleHandler struct {
	service *service.RoleService
}

// NewRoleHandler creates a new handler.
func NewRoleHandler(svc *service.RoleService) *RoleHandler {
	return &RoleHandler{service: svc}
}

// ListRoles returns every role.
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.service.ListRoles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles)
}

// CreateRole adds a role.
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	role, err := h.service.CreateRole(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// UpdateRole renames a role.
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	role, err := h.service.UpdateRole(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, role)
}

// DeleteRole removes a role.
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.service.DeleteRole(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AssignPermissions replaces a role's permission set.
func (h *RoleHandler) AssignPermissions(c *gin.Context) {
	var req service.AssignPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permission assignment payload"))
		return
	}

	if err := h.service.AssignPermissions(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "permissions updated"})
}

// ListPermissions returns every permission.
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.service.ListPermissions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, perms)
}

// CreatePermission adds a permission.
func (h *RoleHandler) CreatePermission(c *gin.Context) {
	var req service.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permission payload"))
		return
	}

	perm, err := h.service.CreatePermission(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, perm)
}

// DeletePermission removes a permission.
func (h *RoleHandler) DeletePermission(c *gin.Context) {
	if err := h.service.DeletePermission(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
