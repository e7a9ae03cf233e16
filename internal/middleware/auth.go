package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/services"
)

const claimsKey = "claims"

// AuthMiddleware validates JWT tokens
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		// Set user info in context
		c.Set(claimsKey, claims)
		c.Set("userID", claims.UserID)
		c.Set("tenantID", claims.TenantID)
		c.Set("userRole", claims.Role)

		ctx := logger.WithValue(c.Request.Context(), logger.TenantKey, claims.TenantID.String())
		ctx = logger.WithValue(ctx, logger.ActorKey, claims.UserID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole ensures the user has one of the given roles
func RequireRole(roles ...services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// RequireWrite rejects read-only roles
func RequireWrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !role.CanWrite() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// GetClaims returns the validated token claims
func GetClaims(c *gin.Context) (*services.Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return uuid.Nil, false
	}
	return userID.(uuid.UUID), true
}

// GetUserRole extracts user role from context
func GetUserRole(c *gin.Context) (services.Role, bool) {
	role, exists := c.Get("userRole")
	if !exists {
		return "", false
	}
	return role.(services.Role), true
}

// GetPrincipal builds the service-level caller from the request.
func GetPrincipal(c *gin.Context) (services.Principal, bool) {
	claims, ok := GetClaims(c)
	if !ok {
		return services.Principal{}, false
	}
	return services.Principal{
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		Name:      claims.Name,
		Email:     claims.Email,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, true
}
