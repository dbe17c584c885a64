package auth

import (
	"context"
	"errors"
	"fmt"

	"deskline/internal/domain"
	"deskline/internal/repo"
)

const (
	PermFieldsManage  = "fields.manage"
	PermTeamsManage   = "teams.manage"
	PermUsersManage   = "users.manage"
	PermUsersDelete   = "users.delete"
	PermTicketsWrite  = "tickets.write"
	PermTicketsDelete = "tickets.delete"
	PermCommandsRun   = "commands.run"
)

var rolePermissions = map[string][]string{
	domain.RoleAdmin: {
		PermFieldsManage, PermTeamsManage, PermUsersManage, PermUsersDelete,
		PermTicketsWrite, PermTicketsDelete, PermCommandsRun,
	},
	domain.RoleAgent:    {PermTicketsWrite, PermCommandsRun},
	domain.RoleCustomer: {PermTicketsWrite},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permissions lists what a role grants. Unknown roles grant nothing.
func Permissions(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

func RoleHas(role, perm string) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Service resolves permissions for stored users.
type Service struct {
	Repo repo.Repo
}

func (s Service) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Permissions(u.Role), nil
}

// Require returns ForbiddenError unless the user's role grants perm. A user
// that no longer exists is forbidden rather than not found.
func (s Service) Require(ctx context.Context, userID, perm string) error {
	if userID == "" {
		return ForbiddenError{Permission: perm}
	}
	u, err := s.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ForbiddenError{Permission: perm}
	}
	if err != nil {
		return err
	}
	if !RoleHas(u.Role, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
