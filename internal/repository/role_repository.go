package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openroster/roster-api/internal/models"
)

// RoleRepository provides database access for roles and permissions.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByName returns a role by its unique name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	const query = `SELECT id, name, created_at, updated_at FROM roles WHERE name = $1 LIMIT 1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role by name: %w", err)
	}
	return &role, nil
}

// FindByID returns a role by identifier.
func (r *RoleRepository) FindByID(ctx context.Context, id string) (*models.Role, error) {
	const query = `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1 LIMIT 1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role by id: %w", err)
	}
	return &role, nil
}

// List returns all roles.
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, created_at, updated_at FROM roles ORDER BY name ASC`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Create inserts a new role.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	const query = `INSERT INTO roles (id, name, created_at, updated_at) VALUES (:id, :name, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update renames a role.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().UTC()
	const query = `UPDATE roles SET name = :name, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// Delete removes a role and its permission assignments.
func (r *RoleRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete role tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
		return fmt.Errorf("delete role permissions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete role tx: %w", err)
	}
	return nil
}

// PermissionsForRole returns the permission names assigned to a role name.
func (r *RoleRepository) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	const query = `SELECT p.name FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id JOIN roles r ON r.id = rp.role_id WHERE r.name = $1 ORDER BY p.name ASC`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, roleName); err != nil {
		return nil, fmt.Errorf("permissions for role: %w", err)
	}
	return names, nil
}

// ListPermissions returns all permissions.
func (r *RoleRepository) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	const query = `SELECT id, name, created_at FROM permissions ORDER BY name ASC`
	var perms []models.Permission
	if err := r.db.SelectContext(ctx, &perms, query); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// CreatePermission inserts a new permission.
func (r *RoleRepository) CreatePermission(ctx context.Context, perm *models.Permission) error {
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO permissions (id, name, created_at) VALUES (:id, :name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, perm); err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

// DeletePermission removes a permission and its role assignments.
func (r *RoleRepository) DeletePermission(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete permission tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, id); err != nil {
		return fmt.Errorf("delete permission assignments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete permission tx: %w", err)
	}
	return nil
}

// ReplacePermissions replaces the permission set for a role within a
// transaction.
func (r *RoleRepository) ReplacePermissions(ctx context.Context, roleID string, permissionIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace permissions tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}

	for _, permID := range permissionIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permID); err != nil {
			return fmt.Errorf("assign role permission: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace permissions tx: %w", err)
	}
	return nil
}
