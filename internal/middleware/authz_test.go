package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/roster-api/internal/models"
)

type resolverMock struct {
	perms map[string][]string
}

func (m *resolverMock) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	return m.perms[roleName], nil
}

func defaultResolver() *resolverMock {
	return &resolverMock{perms: map[string][]string{
		models.RoleAdmin:      {"read", "create", "update", "delete"},
		models.RoleInstructor: {"read", "create", "update"},
		models.RoleStudent:    {"read"},
	}}
}

func runAuthorize(t *testing.T, policy Policy, claims *models.AccessClaims, paramID string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, "/users/"+paramID, nil)
	require.NoError(t, err)
	c.Request = req
	if paramID != "" {
		c.Params = gin.Params{{Key: "id", Value: paramID}}
	}
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}

	called := false
	Authorize(defaultResolver(), policy)(c)
	if !c.IsAborted() {
		called = true
		c.Status(http.StatusOK)
	}
	if called {
		assert.Equal(t, http.StatusOK, w.Code)
	}
	return w
}

func TestAuthorizeMissingPrincipal(t *testing.T) {
	w := runAuthorize(t, Policy{}, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthorizeStudentReadAllowed(t *testing.T) {
	claims := &models.AccessClaims{UserID: "s1", Role: models.RoleStudent}
	w := runAuthorize(t, Policy{RequirePermission: "read"}, claims, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorizeStudentWriteDenied(t *testing.T) {
	claims := &models.AccessClaims{UserID: "s1", Role: models.RoleStudent}
	w := runAuthorize(t, Policy{RequirePermission: "delete"}, claims, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "missing required permission")
}

func TestAuthorizeRestrictStudents(t *testing.T) {
	claims := &models.AccessClaims{UserID: "s1", Role: models.RoleStudent}
	w := runAuthorize(t, Policy{RestrictStudents: true}, claims, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthorizeRestrictInstructors(t *testing.T) {
	claims := &models.AccessClaims{UserID: "i1", Role: models.RoleInstructor}
	w := runAuthorize(t, Policy{RestrictInstructors: true}, claims, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The same policy still admits admins.
	admin := &models.AccessClaims{UserID: "a1", Role: models.RoleAdmin}
	w = runAuthorize(t, Policy{RestrictInstructors: true}, admin, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorizeSelfOnlyMatchingID(t *testing.T) {
	claims := &models.AccessClaims{UserID: "u1", Role: models.RoleStudent}
	w := runAuthorize(t, Policy{SelfOnly: true}, claims, "u1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorizeSelfOnlyForeignID(t *testing.T) {
	claims := &models.AccessClaims{UserID: "u1", Role: models.RoleStudent}
	w := runAuthorize(t, Policy{SelfOnly: true}, claims, "u2")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "another user")
}

func TestAuthorizeSelfOnlyAdminBypass(t *testing.T) {
	claims := &models.AccessClaims{UserID: "a1", Role: models.RoleAdmin}
	w := runAuthorize(t, Policy{SelfOnly: true}, claims, "u2")
	assert.Equal(t, http.StatusOK, w.Code)
}
