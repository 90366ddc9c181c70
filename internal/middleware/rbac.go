package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/response"
)

// RequireRoles admits actors whose role (or alias) resolves to one of roles.
func RequireRoles(registry *workflow.Registry, roles ...models.RoleName) gin.HandlerFunc {
	allowed := make(map[models.RoleName]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return gate(registry, func(c *gin.Context, role workflow.Role) error {
		if _, ok := allowed[role.Name]; ok {
			return nil
		}
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, "role not permitted for this route"),
			map[string]interface{}{"roleName": role.Name},
		)
	})
}

// RequireAuthority admits any role holding a workflow seat.
func RequireAuthority(registry *workflow.Registry) gin.HandlerFunc {
	return gate(registry, func(c *gin.Context, role workflow.Role) error {
		if role.Seat != "" {
			return nil
		}
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, "role has no workflow seat"),
			map[string]interface{}{"roleName": role.Name},
		)
	})
}

// RequireStageAccess admits the actor when the stage named by the route param is
// in the role's inbox. ADMIN may read any stage.
func RequireStageAccess(registry *workflow.Registry, param string) gin.HandlerFunc {
	return gate(registry, func(c *gin.Context, role workflow.Role) error {
		raw := c.Param(param)
		stage, ok := workflow.ParseStage(raw)
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, "unknown stage "+raw)
		}
		if role.Name == models.RoleAdmin || role.CanRead(stage) {
			return nil
		}
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, "stage not in role inbox"),
			map[string]interface{}{"stage": stage, "roleName": role.Name},
		)
	})
}

func gate(registry *workflow.Registry, check func(*gin.Context, workflow.Role) error) gin.HandlerFunc {
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		role, err := registry.ForActor(actor)
		if err == nil {
			err = check(c, role)
		}
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
