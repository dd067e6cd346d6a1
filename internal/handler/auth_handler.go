package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openroster/roster-api/internal/middleware"
	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/service"
	"github.com/openroster/roster-api/pkg/config"
	appErrors "github.com/openroster/roster-api/pkg/errors"
	"github.com/openroster/roster-api/pkg/response"
)

const (
	refreshCookieName = "refreshToken"

	// Clients declare how they want the refresh token delivered. Browser
	// clients ask for a cookie; everything else gets it in the body.
	clientTypeHeader = "X-Client-Type"
	clientTypeWeb    = "web"
)

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
	cfg     *config.Config
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{service: svc, cfg: cfg}
}

// Register creates an account and returns the first token pair.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	user, pair, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	res := &models.AuthResponse{
		Message:     "registration successful",
		AccessToken: pair.AccessToken,
		User: &models.UserInfo{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.RoleName,
		},
	}
	h.deliverRefreshToken(c, pair.RefreshToken, &res.RefreshToken)

	response.Created(c, res)
}

// Login authenticates a user and returns a fresh token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	user, pair, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	res := &models.AuthResponse{
		Message:     "login successful",
		AccessToken: pair.AccessToken,
		User: &models.UserInfo{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.RoleName,
		},
	}
	h.deliverRefreshToken(c, pair.RefreshToken, &res.RefreshToken)

	response.JSON(c, http.StatusOK, res)
}

// Refresh rotates the caller's refresh token. The token arrives either as a
// bearer header or as the refresh cookie.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := middleware.BearerToken(c)
	if raw == "" {
		if cookie, err := c.Cookie(refreshCookieName); err == nil {
			raw = cookie
		}
	}

	pair, err := h.service.Refresh(c.Request.Context(), raw, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}

	res := &models.RefreshResponse{AccessToken: pair.AccessToken}
	h.deliverRefreshToken(c, pair.RefreshToken, &res.RefreshToken)

	response.JSON(c, http.StatusOK, res)
}

// Logout tears down the session behind the presented access token.
func (h *AuthHandler) Logout(c *gin.Context) {
	raw := middleware.BearerToken(c)
	if raw == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "authorization header required"))
		return
	}

	if err := h.service.Logout(c.Request.Context(), raw, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.JSON(c, http.StatusOK, gin.H{"message": "logout successful"})
}

// Profile returns the authenticated principal's claims.
func (h *AuthHandler) Profile(c *gin.Context) {
	claims, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"id":    claims.UserID,
		"email": claims.Email,
		"role":  claims.Role,
	})
}

// ChangePassword updates the caller's password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), claims.UserID, claims.SessionID, req); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"message": "password changed"})
}

// deliverRefreshToken either sets the refresh cookie (web clients) or writes
// the token into the response body field.
func (h *AuthHandler) deliverRefreshToken(c *gin.Context, refreshToken string, bodyField *string) {
	if c.GetHeader(clientTypeHeader) == clientTypeWeb {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(
			refreshCookieName,
			refreshToken,
			int(h.cfg.Token.RefreshExpiration.Seconds()),
			h.cookiePath(),
			"",
			h.cfg.IsProduction(),
			true,
		)
		return
	}
	*bodyField = refreshToken
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, h.cookiePath(), "", h.cfg.IsProduction(), true)
}

// cookiePath scopes the cookie to the auth routes so it never rides along on
// ordinary resource requests.
func (h *AuthHandler) cookiePath() string {
	return h.cfg.APIPrefix + "/auth"
}
