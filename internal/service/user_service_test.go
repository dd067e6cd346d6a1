package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/roster-api/internal/models"
	appErrors "github.com/openroster/roster-api/pkg/errors"
)

type userAdminStore struct {
	users     map[string]*models.User
	auditLogs []*models.AuditLog
}

func newUserAdminStore(users ...*models.User) *userAdminStore {
	store := &userAdminStore{users: make(map[string]*models.User)}
	for _, user := range users {
		store.users[user.ID] = user
	}
	return store
}

func (m *userAdminStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, user := range m.users {
		out = append(out, *user)
	}
	return out, len(out), nil
}

func (m *userAdminStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *userAdminStore) Update(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *userAdminStore) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *userAdminStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func TestUserListPaginationDefaults(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1"}, &models.User{ID: "u2"})
	svc := NewUserService(store, nil, nil, nil)

	users, pagination, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(newUserAdminStore(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrNotFound.Status, appErr.Status)
}

func TestUserUpdateMutatesProfileOnly(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1", Email: "a@b.com", RoleID: "r1", FirstName: "Old"})
	svc := NewUserService(store, nil, nil, nil)

	phone := "555-0100"
	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		FirstName: "New",
		LastName:  "Name",
		Phone:     &phone,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "New", user.FirstName)
	assert.Equal(t, &phone, user.Phone)

	// Identity fields stay untouched.
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, "r1", user.RoleID)

	require.Len(t, store.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserUpdate, store.auditLogs[0].Action)
}

func TestUserUpdateValidation(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1"})
	svc := NewUserService(store, nil, nil, nil)

	_, err := svc.Update(context.Background(), "u1", UpdateUserRequest{FirstName: "OnlyFirst"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserDeleteRecordsAudit(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1"})
	svc := NewUserService(store, nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "u1", "admin-1"))
	assert.Empty(t, store.users)
	require.Len(t, store.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, store.auditLogs[0].Action)
}

type avatarStoreMock struct {
	saved   map[string][]byte
	deleted []string
}

func newAvatarStoreMock() *avatarStoreMock {
	return &avatarStoreMock{saved: make(map[string][]byte)}
}

func (m *avatarStoreMock) SaveStream(filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *avatarStoreMock) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	delete(m.saved, filename)
	return nil
}

func TestUploadAvatarStoresFileAndUpdatesURL(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1"})
	avatars := newAvatarStoreMock()
	svc := NewUserService(store, avatars, nil, nil)

	user, err := svc.UploadAvatar(context.Background(), "u1", "me.PNG", strings.NewReader("png-bytes"), "u1")
	require.NoError(t, err)
	require.NotNil(t, user.AvatarURL)
	assert.Equal(t, "/static/avatars/u1.png", *user.AvatarURL)
	assert.Contains(t, avatars.saved, "avatars/u1.png")
}

func TestUploadAvatarReplacesPreviousFile(t *testing.T) {
	old := "/static/avatars/u1.jpg"
	store := newUserAdminStore(&models.User{ID: "u1", AvatarURL: &old})
	avatars := newAvatarStoreMock()
	svc := NewUserService(store, avatars, nil, nil)

	_, err := svc.UploadAvatar(context.Background(), "u1", "new.png", strings.NewReader("png-bytes"), "u1")
	require.NoError(t, err)
	assert.Contains(t, avatars.deleted, "avatars/u1.jpg")
}

func TestUploadAvatarRejectsUnknownExtension(t *testing.T) {
	store := newUserAdminStore(&models.User{ID: "u1"})
	svc := NewUserService(store, newAvatarStoreMock(), nil, nil)

	_, err := svc.UploadAvatar(context.Background(), "u1", "payload.exe", strings.NewReader("x"), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserDeleteMissing(t *testing.T) {
	svc := NewUserService(newUserAdminStore(), nil, nil, nil)

	err := svc.Delete(context.Background(), "missing", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
