package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/token"
	"github.com/openroster/roster-api/pkg/config"
)

func testCodec() *token.Codec {
	return token.NewCodec(config.TokenConfig{
		AccessSecret:      "access-secret",
		AccessExpiration:  time.Minute,
		RefreshSecret:     "refresh-secret",
		RefreshExpiration: time.Hour,
		Issuer:            "roster-api-test",
	})
}

func runAuth(t *testing.T, authorization string) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, "/profile", nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	c.Request = req
	Auth(testCodec())(c)
	return w, c
}

func TestAuthValidToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "a@b.com", RoleName: models.RoleStudent}
	accessToken, err := testCodec().IssueAccessToken(user, "s1")
	require.NoError(t, err)

	w, c := runAuth(t, "Bearer "+accessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, c.IsAborted())

	claims, ok := Principal(c)
	require.True(t, ok)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthMissingHeader(t *testing.T) {
	w, c := runAuth(t, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, c.IsAborted())
}

func TestAuthMalformedHeader(t *testing.T) {
	w, _ := runAuth(t, "Token abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthGarbageToken(t *testing.T) {
	w, _ := runAuth(t, "Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRefreshTokenRejectedAsAccess(t *testing.T) {
	refreshToken, err := testCodec().IssueRefreshToken("u1", "s1")
	require.NoError(t, err)

	w, _ := runAuth(t, "Bearer "+refreshToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
