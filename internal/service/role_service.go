package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openroster/roster-api/internal/models"
	appErrors "github.com/openroster/roster-api/pkg/errors"
)

type roleRepository interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	FindByID(ctx context.Context, id string) (*models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id string) error
	PermissionsForRole(ctx context.Context, roleName string) ([]string, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, perm *models.Permission) error
	DeletePermission(ctx context.Context, id string) error
	ReplacePermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

type permissionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const permissionCachePrefix = "role:perms:"

// CreateRoleRequest payload for creating roles.
type CreateRoleRequest struct {
	Name string `json:"name" validate:"required,min=2"`
}

// CreatePermissionRequest payload for creating permissions.
type CreatePermissionRequest struct {
	Name string `json:"name" validate:"required,min=2"`
}

// AssignPermissionsRequest replaces a role's permission set.
type AssignPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required"`
}

// RoleService resolves roles to permission sets and manages both
// administratively. Permission lookups are cached; every mutation invalidates
// the cache explicitly so the process-wide state never goes stale silently.
type RoleService struct {
	repo      roleRepository
	cache     permissionCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoleService constructs a RoleService instance.
func NewRoleService(repo roleRepository, cache permissionCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RoleService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// ResolveRole returns the role with the given name.
func (s *RoleService) ResolveRole(ctx context.Context, name string) (*models.Role, error) {
	role, err := s.repo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrRoleNotFound, fmt.Sprintf("role %q not found", name))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role")
	}
	return role, nil
}

// PermissionsForRole returns the permission names for a role name, consulting
// the cache first.
func (s *RoleService) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	key := permissionCachePrefix + roleName

	var cached []string
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	perms, err := s.repo.PermissionsForRole(ctx, roleName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role permissions")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, perms, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache role permissions", zap.String("role", roleName), zap.Error(err))
		}
	}
	return perms, nil
}

// ListRoles returns every role.
func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roles")
	}
	return roles, nil
}

// CreateRole adds a new role.
func (s *RoleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}

	if _, err := s.repo.FindByName(ctx, req.Name); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role uniqueness")
	}

	role := &models.Role{Name: req.Name}
	if err := s.repo.Create(ctx, role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create role")
	}
	return role, nil
}

// UpdateRole renames a role and invalidates its cached permissions.
func (s *RoleService) UpdateRole(ctx context.Context, id string, req CreateRoleRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}

	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	oldName := role.Name
	role.Name = req.Name
	if err := s.repo.Update(ctx, role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}

	s.invalidate(ctx, oldName, role.Name)
	return role, nil
}

// DeleteRole removes a role and invalidates the cache.
func (s *RoleService) DeleteRole(ctx context.Context, id string) error {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete role")
	}

	s.invalidate(ctx, role.Name)
	return nil
}

// ListPermissions returns every permission.
func (s *RoleService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list permissions")
	}
	return perms, nil
}

// CreatePermission adds a new permission.
func (s *RoleService) CreatePermission(ctx context.Context, req CreatePermissionRequest) (*models.Permission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission payload")
	}

	perm := &models.Permission{Name: req.Name}
	if err := s.repo.CreatePermission(ctx, perm); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create permission")
	}
	return perm, nil
}

// DeletePermission removes a permission everywhere and invalidates all cached
// role permission sets, since any role may have referenced it.
func (s *RoleService) DeletePermission(ctx context.Context, id string) error {
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete permission")
	}
	s.invalidateAll(ctx)
	return nil
}

// AssignPermissions replaces a role's permission set and invalidates the
// cache for that role.
func (s *RoleService) AssignPermissions(ctx context.Context, roleID string, req AssignPermissionsRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission assignment payload")
	}

	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	if err := s.repo.ReplacePermissions(ctx, roleID, req.PermissionIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign permissions")
	}

	s.invalidate(ctx, role.Name)
	return nil
}

func (s *RoleService) invalidate(ctx context.Context, roleNames ...string) {
	if s.cache == nil {
		return
	}
	for _, name := range roleNames {
		if err := s.cache.DeleteByPattern(ctx, permissionCachePrefix+name); err != nil {
			s.logger.Warn("failed to invalidate permission cache", zap.String("role", name), zap.Error(err))
		}
	}
}

func (s *RoleService) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, permissionCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate permission cache", zap.Error(err))
	}
}
