package community

import (
	"errors"
	"fmt"

	"collab-service/internal/apperrors"
	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

// OpenRoles subscribes the connection to role changes of a community.
func (s *Service) OpenRoles(c *dispatch.Context, communityID int) (Membership, error) {
	c.Join(RolesRoom(communityID))
	return Membership{CommunityID: communityID, UserID: c.UserID()}, nil
}

func (s *Service) CloseRoles(c *dispatch.Context, communityID int) (Membership, error) {
	c.Leave(RolesRoom(communityID))
	return Membership{CommunityID: communityID, UserID: c.UserID()}, nil
}

// NewRole creates a role in a community.
func (s *Service) NewRole(c *dispatch.Context, role models.Role) (models.Role, error) {
	for _, p := range role.Permissions {
		if !p.Valid() {
			return models.Role{}, apperrors.Validation("Validation Error", apperrors.FieldError{Field: "permissions", Rule: "oneof"})
		}
	}
	repo := c.Tx.Communities()
	if _, err := repo.LockCommunity(c.Ctx, role.CommunityID); err != nil {
		if errors.Is(err, repositories.ErrCommunityNotFound) {
			return models.Role{}, apperrors.NotFound("Community not found")
		}
		return models.Role{}, fmt.Errorf("lock community: %w", err)
	}
	n, err := repo.CountRoles(c.Ctx, role.CommunityID)
	if err != nil {
		return models.Role{}, fmt.Errorf("count roles: %w", err)
	}
	if n >= s.limits.RolesPerCommunity {
		return models.Role{}, apperrors.Conflict(fmt.Sprintf("Limit of %d roles reached", s.limits.RolesPerCommunity))
	}
	created, err := repo.CreateRole(c.Ctx, role)
	if err != nil {
		return models.Role{}, fmt.Errorf("create role: %w", err)
	}
	return created, nil
}

func (s *Service) DeleteRole(c *dispatch.Context, communityID, roleID int) (Removal, error) {
	repo := c.Tx.Communities()
	if _, err := s.role(c, communityID, roleID); err != nil {
		return Removal{}, err
	}
	if err := repo.DeleteRole(c.Ctx, roleID); err != nil {
		return Removal{}, fmt.Errorf("delete role: %w", err)
	}
	return Removal{CommunityID: communityID, ID: roleID}, nil
}

// AssignRole grants a role to a participant of the same community.
func (s *Service) AssignRole(c *dispatch.Context, communityID, userID, roleID int) (RoleAssignment, error) {
	repo := c.Tx.Communities()
	target, err := repo.GetParticipant(c.Ctx, communityID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return RoleAssignment{}, apperrors.NotFound("Target participant not found")
	}
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("get participant: %w", err)
	}
	if _, err := s.role(c, communityID, roleID); err != nil {
		return RoleAssignment{}, err
	}
	if err := repo.AssignRole(c.Ctx, target.ID, roleID); err != nil {
		return RoleAssignment{}, fmt.Errorf("assign role: %w", err)
	}
	return RoleAssignment{CommunityID: communityID, UserID: userID, RoleID: roleID}, nil
}

func (s *Service) role(c *dispatch.Context, communityID, roleID int) (models.Role, error) {
	role, err := c.Tx.Communities().GetRole(c.Ctx, communityID, roleID)
	if errors.Is(err, repositories.ErrRoleNotFound) {
		return models.Role{}, apperrors.NotFound("Role not found")
	}
	if err != nil {
		return models.Role{}, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}
