package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/openroster/roster-api/internal/models"
	appErrors "github.com/openroster/roster-api/pkg/errors"
	"github.com/openroster/roster-api/pkg/response"
)

type permissionResolver interface {
	PermissionsForRole(ctx context.Context, roleName string) ([]string, error)
}

// Policy configures the authorization middleware per route. All configured
// checks must pass; each failure is reported with its own message.
type Policy struct {
	// RequirePermission names the permission the principal's role must hold.
	// Empty defaults to "read".
	RequirePermission string
	// RestrictStudents denies the student role outright.
	RestrictStudents bool
	// RestrictInstructors denies the instructor role outright.
	RestrictInstructors bool
	// SelfOnly requires the path id parameter to match the principal's id.
	// Admins bypass the ownership check.
	SelfOnly bool
	// SelfParam is the path parameter compared for SelfOnly. Empty defaults
	// to "id".
	SelfParam string
}

// Authorize gates a route on the route's policy. Permissions are resolved
// freshly per request so role mutations take effect without re-login.
func Authorize(resolver permissionResolver, policy Policy) gin.HandlerFunc {
	required := policy.RequirePermission
	if required == "" {
		required = "read"
	}
	selfParam := policy.SelfParam
	if selfParam == "" {
		selfParam = "id"
	}

	return func(c *gin.Context) {
		claims, ok := Principal(c)
		if !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		perms, err := resolver.PermissionsForRole(c.Request.Context(), claims.Role)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if !contains(perms, required) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "missing required permission: "+required))
			c.Abort()
			return
		}

		if policy.RestrictStudents && claims.Role == models.RoleStudent {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "route not available to the student role"))
			c.Abort()
			return
		}

		if policy.RestrictInstructors && claims.Role == models.RoleInstructor {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "route not available to the instructor role"))
			c.Abort()
			return
		}

		if policy.SelfOnly && claims.Role != models.RoleAdmin {
			if target := c.Param(selfParam); target != claims.UserID {
				response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "resource belongs to another user"))
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
