package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/services"
)

func newAuthService() *services.AuthService {
	cfg := config.Defaults()
	cfg.JWTSecret = "test-secret"
	return services.NewAuthService(cfg)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthService()

	userID, tenantID := uuid.New(), uuid.New()
	token, err := auth.GenerateToken(userID, tenantID, "dana@example.com", "Dana", services.RoleMember)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	router := gin.New()
	router.Use(AuthMiddleware(auth))
	router.GET("/me", func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": p.UserID, "tenant": p.TenantID, "name": p.Name})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequireWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthService()

	router := gin.New()
	router.Use(AuthMiddleware(auth), RequireWrite())
	router.POST("/contracts", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	tests := []struct {
		role services.Role
		want int
	}{
		{services.RoleAdmin, http.StatusCreated},
		{services.RoleMember, http.StatusCreated},
		{services.RoleViewer, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, _ := auth.GenerateToken(uuid.New(), uuid.New(), "u@example.com", "U", tt.role)
			req := httptest.NewRequest("POST", "/contracts", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthService()

	router := gin.New()
	router.Use(AuthMiddleware(auth), RequireRole(services.RoleAdmin))
	router.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	token, _ := auth.GenerateToken(uuid.New(), uuid.New(), "m@example.com", "M", services.RoleManager)
	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}
