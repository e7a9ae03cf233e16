// Command devtoken mints a staff JWT for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/services"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id (random when empty)")
	user := flag.String("user", "", "user id (random when empty)")
	email := flag.String("email", "dev@contractdesk.local", "user email")
	name := flag.String("name", "Local Developer", "user display name")
	role := flag.String("role", string(services.RoleManager), "admin, manager, member or viewer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	tenantID, err := parseOrNew(*tenant)
	if err != nil {
		slog.Error("invalid tenant id", "error", err)
		os.Exit(1)
	}
	userID, err := parseOrNew(*user)
	if err != nil {
		slog.Error("invalid user id", "error", err)
		os.Exit(1)
	}

	switch services.Role(*role) {
	case services.RoleAdmin, services.RoleManager, services.RoleMember, services.RoleViewer:
	default:
		slog.Error("unknown role", "role", *role)
		os.Exit(1)
	}

	token, err := services.NewAuthService(cfg).GenerateToken(userID, tenantID, *email, *name, services.Role(*role))
	if err != nil {
		slog.Error("failed to sign token", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "tenant=%s user=%s role=%s\n", tenantID, userID, *role)
	fmt.Println(token)
}

func parseOrNew(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(raw)
}
