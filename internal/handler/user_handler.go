package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openroster/roster-api/internal/middleware"
	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/service"
	appErrors "github.com/openroster/roster-api/pkg/errors"
	"github.com/openroster/roster-api/pkg/response"
)

// UserHandler exposes user administration endpoints.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// List returns users with filtering and pagination.
func (h *UserHandler) List(c *gin.Context) {
	filter := models.UserFilter{
		Role:      c.Query("role"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		filter.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("page_size")); err == nil {
		filter.PageSize = pageSize
	}
	if active := c.Query("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err == nil {
			filter.Active = &b
		}
	}

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"users": users, "pagination": pagination})
}

// Get returns one user.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// Update mutates profile fields.
func (h *UserHandler) Update(c *gin.Context) {
	claims, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	user, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// UploadAvatar accepts a multipart image and replaces the user's avatar.
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	claims, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "avatar file required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read avatar file"))
		return
	}
	defer file.Close() //nolint:errcheck

	user, err := h.service.UploadAvatar(c.Request.Context(), c.Param("id"), fileHeader.Filename, file, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// Delete removes a user and its sessions.
func (h *UserHandler) Delete(c *gin.Context) {
	claims, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
