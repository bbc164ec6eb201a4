package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/config"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

// CasdoorAuthMiddleware provides authentication using Casdoor SDK
type CasdoorAuthMiddleware struct {
	client    *casdoorsdk.Client
	actorRepo repositories.ActorRepository
	config    config.CasdoorConfig
}

// NewCasdoorAuthMiddleware creates a new Casdoor authentication middleware
func NewCasdoorAuthMiddleware(cfg config.CasdoorConfig, actorRepo repositories.ActorRepository) *CasdoorAuthMiddleware {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Cert,
		cfg.Application,
		cfg.Organization,
	)

	return &CasdoorAuthMiddleware{
		client:    client,
		actorRepo: actorRepo,
		config:    cfg,
	}
}

// AuthMiddleware returns a Gin middleware function for Casdoor authentication
func (cam *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "authorization header missing",
			})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>" format
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid authorization header format",
			})
			c.Abort()
			return
		}

		token := tokenParts[1]

		claims, err := cam.client.ParseJwtToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": fmt.Sprintf("invalid token: %v", err),
			})
			c.Abort()
			return
		}

		actor, err := cam.extractActorFromClaims(c.Request.Context(), claims)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": fmt.Sprintf("failed to resolve actor: %v", err),
			})
			c.Abort()
			return
		}

		c.Set("actor_id", actor.ID)
		c.Set("actor", actor)
		c.Set("actor_role", actor.Role)

		c.Next()
	}
}

// RequireRoleMiddleware checks if the actor has one of the required roles.
// Admins always pass.
func (cam *CasdoorAuthMiddleware) RequireRoleMiddleware(requiredRoles ...models.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorRole, exists := c.Get("actor_role")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "actor role not found in context",
			})
			c.Abort()
			return
		}

		role, ok := actorRole.(models.ActorRole)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "invalid actor role format",
			})
			c.Abort()
			return
		}

		hasRequiredRole := false
		for _, requiredRole := range requiredRoles {
			if role == requiredRole || role == models.RoleAdmin {
				hasRequiredRole = true
				break
			}
		}

		if !hasRequiredRole {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": fmt.Sprintf("insufficient permissions, required role: %v", requiredRoles),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractActorFromClaims resolves the local profile row for a token. The
// profile is created on first sight so downstream code can always rely on
// a persisted actor.
func (cam *CasdoorAuthMiddleware) extractActorFromClaims(ctx context.Context, claims *casdoorsdk.Claims) (*models.Actor, error) {
	actorID := claims.Id
	if actorID == "" {
		return nil, fmt.Errorf("invalid actor ID in token")
	}

	actor, err := cam.actorRepo.GetByID(ctx, nil, actorID)
	if err == nil {
		return actor, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, err
	}

	fresh := cam.actorFromClaims(claims)
	if fresh == nil {
		return nil, fmt.Errorf("failed to build actor from claims")
	}
	return cam.actorRepo.EnsureExists(ctx, nil, fresh)
}

// actorFromClaims builds a profile from JWT claims for first-time actors.
func (cam *CasdoorAuthMiddleware) actorFromClaims(claims *casdoorsdk.Claims) *models.Actor {
	actorID := claims.Id
	if actorID == "" {
		return nil
	}

	email := claims.User.Email
	fullName := claims.User.DisplayName
	role := cam.mapCasdoorRole(claims.User.Type)

	actor := &models.Actor{
		ID:   actorID,
		Role: role,
	}
	if email != "" {
		actor.Email = &email
	}
	if fullName != "" {
		actor.FullName = &fullName
	}
	if role == models.RoleStudent && claims.User.Name != "" {
		name := claims.User.Name
		actor.StudentID = &name
	}
	return actor
}

// mapCasdoorRole maps the Casdoor user type to an internal role
func (cam *CasdoorAuthMiddleware) mapCasdoorRole(casdoorType string) models.ActorRole {
	switch strings.ToLower(casdoorType) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor", "educator":
		return models.RoleInstructor
	case "student", "learner":
		return models.RoleStudent
	default:
		return models.RoleStudent
	}
}

// GetActorFromContext extracts the authenticated actor from the Gin context
func GetActorFromContext(c *gin.Context) (*models.Actor, error) {
	actor, exists := c.Get("actor")
	if !exists {
		return nil, fmt.Errorf("actor not found in context")
	}

	actorModel, ok := actor.(*models.Actor)
	if !ok {
		return nil, fmt.Errorf("invalid actor type in context")
	}

	return actorModel, nil
}
