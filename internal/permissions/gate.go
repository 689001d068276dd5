// Package permissions decides whether an actor may run an operation in a
// community or chat scope.
package permissions

import (
	"context"
	"errors"
	"fmt"

	"collab-service/internal/apperrors"
	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

// Rejection messages carried by acks.
const (
	MsgParticipantNotFound    = "Permission Denied: Participant not found"
	MsgInsufficientPermission = "Permission Denied: Not sufficient permissions"
)

// Rejection causes. Check wraps them in a PERMISSION_DENIED apperrors.Error.
var (
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrInsufficientPermission = errors.New("insufficient permission")
)

func rejectNotFound() error {
	return apperrors.Wrap(apperrors.CodePermissionDenied, MsgParticipantNotFound, ErrParticipantNotFound)
}

func rejectInsufficient() error {
	return apperrors.Wrap(apperrors.CodePermissionDenied, MsgInsufficientPermission, ErrInsufficientPermission)
}

// ScopeKind selects where the actor's membership is resolved.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeCommunity
	ScopeChat
)

// Scope identifies one community or chat.
type Scope struct {
	Kind ScopeKind
	ID   int
}

func Community(id int) Scope { return Scope{Kind: ScopeCommunity, ID: id} }
func Chat(id int) Scope      { return Scope{Kind: ScopeChat, ID: id} }

// Requirement is what the actor must hold. The zero value asks for membership only.
type Requirement struct {
	Permission models.Permission
	OwnerOnly  bool
}

func Require(p models.Permission) Requirement { return Requirement{Permission: p} }

// RequireOwner admits only the community owner or the chat OWNER.
func RequireOwner() Requirement { return Requirement{OwnerOnly: true} }

// Access is the actor state resolved by a successful check.
type Access struct {
	Scope           Scope
	UserID          int
	Owner           bool
	Permissions     map[models.Permission]struct{}
	Participant     *models.Participant
	ChatParticipant *models.ChatParticipant
}

// Has reports whether the actor holds p, with owners holding everything.
func (a Access) Has(p models.Permission) bool {
	if a.Owner {
		return true
	}
	_, ok := a.Permissions[p]
	return ok
}

// chatRolePermissions derives a permission set from the chat rank.
var chatRolePermissions = map[models.ChatRole][]models.Permission{
	models.ChatRoleMuted: nil,
	models.ChatRoleBasic: {models.PermSendMessages},
	models.ChatRoleModer: {models.PermSendMessages, models.PermManageMessages, models.PermManageParticipants},
	models.ChatRoleAdmin: {models.PermSendMessages, models.PermManageMessages, models.PermManageParticipants, models.PermInviteUsers, models.PermManageRoles},
}

// RolePermissions returns the permissions implied by a chat role.
func RolePermissions(role models.ChatRole) map[models.Permission]struct{} {
	set := map[models.Permission]struct{}{}
	for _, p := range chatRolePermissions[role] {
		set[p] = struct{}{}
	}
	return set
}

// Outranks reports whether actor may manage target: strictly higher rank.
func Outranks(actor, target models.ChatRole) bool {
	return actor.Rank() > target.Rank()
}

// Gate resolves participants and checks requirements. It never writes.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Check resolves the actor in scope and accepts or rejects req.
func (g *Gate) Check(ctx context.Context, tx repositories.Tx, actorID int, scope Scope, req Requirement) (Access, error) {
	switch scope.Kind {
	case ScopeCommunity:
		return g.checkCommunity(ctx, tx, actorID, scope, req)
	case ScopeChat:
		return g.checkChat(ctx, tx, actorID, scope, req)
	case ScopeNone:
		return Access{Scope: scope, UserID: actorID}, nil
	default:
		return Access{}, fmt.Errorf("unknown scope kind %d", scope.Kind)
	}
}

func (g *Gate) checkCommunity(ctx context.Context, tx repositories.Tx, actorID int, scope Scope, req Requirement) (Access, error) {
	participant, err := tx.Communities().GetParticipant(ctx, scope.ID, actorID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return Access{}, rejectNotFound()
	}
	if err != nil {
		return Access{}, fmt.Errorf("resolve participant: %w", err)
	}
	community, err := tx.Communities().GetCommunity(ctx, scope.ID)
	if err != nil {
		return Access{}, fmt.Errorf("resolve community: %w", err)
	}
	perms, err := tx.Communities().Permissions(ctx, participant.ID)
	if err != nil {
		return Access{}, fmt.Errorf("resolve permissions: %w", err)
	}

	access := Access{
		Scope:       scope,
		UserID:      actorID,
		Owner:       community.OwnerID == actorID,
		Permissions: make(map[models.Permission]struct{}, len(perms)),
		Participant: &participant,
	}
	for _, p := range perms {
		access.Permissions[p] = struct{}{}
	}
	if err := g.evaluate(access, req); err != nil {
		return Access{}, err
	}
	return access, nil
}

// checkChat row-locks the participant so handlers may update its counters.
func (g *Gate) checkChat(ctx context.Context, tx repositories.Tx, actorID int, scope Scope, req Requirement) (Access, error) {
	participant, err := tx.Chats().LockParticipant(ctx, scope.ID, actorID)
	if errors.Is(err, repositories.ErrChatParticipantNotFound) {
		return Access{}, rejectNotFound()
	}
	if err != nil {
		return Access{}, fmt.Errorf("resolve chat participant: %w", err)
	}

	access := Access{
		Scope:           scope,
		UserID:          actorID,
		Owner:           participant.Role == models.ChatRoleOwner,
		Permissions:     RolePermissions(participant.Role),
		ChatParticipant: &participant,
	}
	if err := g.evaluate(access, req); err != nil {
		return Access{}, err
	}
	return access, nil
}

func (g *Gate) evaluate(access Access, req Requirement) error {
	if access.Owner {
		return nil
	}
	if req.OwnerOnly {
		return rejectInsufficient()
	}
	if req.Permission != "" && !access.Has(req.Permission) {
		return rejectInsufficient()
	}
	return nil
}
