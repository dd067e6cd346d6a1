package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/service"
	"github.com/openroster/roster-api/internal/token"
	"github.com/openroster/roster-api/pkg/config"
)

type userStoreMock struct {
	byEmail  map[string]*models.User
	byID     map[string]*models.User
	sessions *sessionStoreMock
}

func newUserStoreMock(sessions *sessionStoreMock) *userStoreMock {
	return &userStoreMock{
		byEmail:  make(map[string]*models.User),
		byID:     make(map[string]*models.User),
		sessions: sessions,
	}
}

func (m *userStoreMock) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *userStoreMock) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *userStoreMock) CreateWithSession(ctx context.Context, user *models.User, session *models.Session) error {
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return m.sessions.Create(ctx, session)
}

func (m *userStoreMock) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return nil
}

func (m *userStoreMock) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (m *userStoreMock) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type sessionStoreMock struct {
	sessions map[string]*models.Session
}

func newSessionStoreMock() *sessionStoreMock {
	return &sessionStoreMock{sessions: make(map[string]*models.Session)}
}

func (m *sessionStoreMock) Create(ctx context.Context, session *models.Session) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *sessionStoreMock) FindByID(ctx context.Context, id string) (*models.Session, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

func (m *sessionStoreMock) RotateHash(ctx context.Context, id, oldHash, newHash, ip, userAgent string, expiresAt time.Time) error {
	session, ok := m.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	session.TokenHash = newHash
	session.ExpiresAt = expiresAt
	return nil
}

func (m *sessionStoreMock) Delete(ctx context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.sessions, id)
	return nil
}

func (m *sessionStoreMock) DeleteByUser(ctx context.Context, userID, keepID string) error {
	return nil
}

type roleStoreMock struct{}

func (roleStoreMock) FindByName(ctx context.Context, name string) (*models.Role, error) {
	if name != models.RoleStudent {
		return nil, sql.ErrNoRows
	}
	return &models.Role{ID: "r-student", Name: name}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:       "test",
		APIPrefix: "/api/v1",
		Token: config.TokenConfig{
			AccessSecret:      "access-secret",
			AccessExpiration:  15 * time.Minute,
			RefreshSecret:     "refresh-secret",
			RefreshExpiration: 24 * time.Hour,
			Issuer:            "roster-api-test",
		},
	}
}

func newTestAuthHandler() (*AuthHandler, *sessionStoreMock) {
	cfg := testConfig()
	sessions := newSessionStoreMock()
	users := newUserStoreMock(sessions)
	svc := service.NewAuthService(users, sessions, roleStoreMock{}, token.NewCodec(cfg.Token), nil, nil, nil)
	return NewAuthHandler(svc, cfg), sessions
}

func registerBody(t *testing.T) *bytes.Reader {
	body, err := json.Marshal(models.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "longenough1",
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, cookie := range res.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestRegisterWebClientGetsCookieNotBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestAuthHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", "web")
	c.Request = req

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)

	cookie := findCookie(w.Result(), "refreshToken")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/api/v1/auth", cookie.Path)
	assert.NotEmpty(t, cookie.Value)

	var res models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.AccessToken)
	assert.Empty(t, res.RefreshToken)
	require.NotNil(t, res.User)
	assert.Equal(t, "ada@example.com", res.User.Email)
}

func TestRegisterNonWebClientGetsBodyNotCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestAuthHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Nil(t, findCookie(w.Result(), "refreshToken"))

	var res models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.RefreshToken)
}

func TestRefreshReadsCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestAuthHandler()

	// Register as a web client to receive the refresh cookie.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", "web")
	c.Request = req
	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)
	cookie := findCookie(w.Result(), "refreshToken")
	require.NotNil(t, cookie)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	req.Header.Set("X-Client-Type", "web")
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: cookie.Value})
	c.Request = req

	handler.Refresh(c)
	require.Equal(t, http.StatusOK, w.Code)

	rotated := findCookie(w.Result(), "refreshToken")
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	var res models.RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.AccessToken)
	assert.Empty(t, res.RefreshToken)
}

func TestRefreshWithoutTokenRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestAuthHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	c.Request = req

	handler.Refresh(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "REFRESH_TOKEN_REQUIRED")
}

func TestLogoutClearsCookieAndSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, sessions := newTestAuthHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var res models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, sessions.sessions, 1)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	c.Request = req

	handler.Logout(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sessions.sessions)

	cleared := findCookie(w.Result(), "refreshToken")
	require.NotNil(t, cleared)
	assert.True(t, cleared.MaxAge < 0 || cleared.Value == "")
}

func TestLoginInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestAuthHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
