package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/repository"
	"github.com/openroster/roster-api/internal/token"
	"github.com/openroster/roster-api/pkg/hash"

	appErrors "github.com/openroster/roster-api/pkg/errors"
)

// DefaultRole is assigned when registration omits an explicit role name.
const DefaultRole = models.RoleStudent

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateWithSession(ctx context.Context, user *models.User, session *models.Session) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type authSessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	RotateHash(ctx context.Context, id, oldHash, newHash, ip, userAgent string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID, keepID string) error
}

type authRoleRepository interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
}

// AuthService orchestrates registration, login, refresh rotation and logout.
type AuthService struct {
	users     authUserRepository
	sessions  authSessionRepository
	roles     authRoleRepository
	codec     *token.Codec
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, sessions authSessionRepository, roles authRoleRepository, codec *token.Codec, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{users: users, sessions: sessions, roles: roles, codec: codec, validator: validate, logger: logger, metrics: metrics}
}

// Register creates a user and its first session atomically and returns the
// issued token pair.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, *models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	roleName := req.Role
	if roleName == "" {
		roleName = DefaultRole
	}
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrRoleNotFound, "role "+roleName+" not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role")
	}

	email := strings.ToLower(req.Email)
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUserExists, "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := hash.Hash(req.Password)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       role.ID,
		RoleName:     role.Name,
		Active:       true,
	}

	sessionID := uuid.NewString()
	pair, session, err := s.issueSession(user, sessionID, req.IP, req.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.CreateWithSession(ctx, user, session); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.ObserveRegistration()
	}

	return user, pair, nil
}

// Login authenticates a user and opens a new session. A missing user and a
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.User, *models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.metrics != nil {
				s.metrics.ObserveLogin(false)
			}
			return nil, nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	ok, err := hash.Verify(user.PasswordHash, req.Password)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.ObserveLogin(false)
		}
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	sessionID := uuid.NewString()
	pair, session, err := s.issueSession(user, sessionID, req.IP, req.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.ObserveLogin(true)
	}

	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a rotated pair. The presented
// token must match the stored hash: a rotated-out token still carries a valid
// signature but no longer matches, which is what defeats replay.
func (s *AuthService) Refresh(ctx context.Context, rawToken, ip, userAgent string) (*models.TokenPair, error) {
	if rawToken == "" {
		return nil, appErrors.Clone(appErrors.ErrRefreshRequired, "")
	}

	claims, err := s.codec.ParseRefreshToken(rawToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	match, err := hash.Verify(session.TokenHash, rawToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify refresh token")
	}
	if !match || session.Revoked || session.Expired(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, err := s.codec.IssueAccessToken(user, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}
	refreshToken, err := s.codec.IssueRefreshToken(user.ID, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue refresh token")
	}
	newHash, err := hash.Hash(refreshToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh token")
	}

	expiresAt := time.Now().UTC().Add(s.codec.RefreshTTL())
	if err := s.sessions.RotateHash(ctx, session.ID, session.TokenHash, newHash, ip, userAgent, expiresAt); err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			if s.metrics != nil {
				s.metrics.ObserveRotationConflict()
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "session was refreshed concurrently, retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	s.audit(ctx, &user.ID, models.AuditActionRefresh, ip, userAgent)
	if s.metrics != nil {
		s.metrics.ObserveRefresh()
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Logout deletes the session behind the presented access token. The refresh
// token bound to that session stops working the moment its row is gone.
func (s *AuthService) Logout(ctx context.Context, accessToken, ip, userAgent string) error {
	if accessToken == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "access token required")
	}

	claims, err := s.codec.ParseAccessToken(accessToken)
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}

	s.audit(ctx, &claims.UserID, models.AuditActionLogout, ip, userAgent)
	return nil
}

// ChangePassword updates the caller's credential and revokes every other
// session so stolen refresh tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, sessionID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	ok, err := hash.Verify(user.PasswordHash, req.OldPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := hash.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.sessions.DeleteByUser(ctx, userID, sessionID); err != nil {
		s.logger.Warn("failed to revoke other sessions after password change", zap.Error(err))
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, "", "")
	return nil
}

// ValidateAccessToken parses and validates an access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*models.AccessClaims, error) {
	return s.codec.ParseAccessToken(tokenString)
}

func (s *AuthService) issueSession(user *models.User, sessionID, ip, userAgent string) (*models.TokenPair, *models.Session, error) {
	accessToken, err := s.codec.IssueAccessToken(user, sessionID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}
	refreshToken, err := s.codec.IssueRefreshToken(user.ID, sessionID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue refresh token")
	}

	tokenHash, err := hash.Hash(refreshToken)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh token")
	}

	session := &models.Session{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: tokenHash,
		IPAddress: ip,
		UserAgent: userAgent,
		Revoked:   false,
		ExpiresAt: time.Now().UTC().Add(s.codec.RefreshTTL()),
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, session, nil
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, ip, userAgent string) {
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
