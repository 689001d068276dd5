package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collab-service/internal/apperrors"
	"collab-service/internal/models"
	"collab-service/internal/repositories"
	"collab-service/internal/repositories/memstore"
)

type fixture struct {
	store       *memstore.Store
	communityID int
	chatID      int
}

// Users: 1 owns the community, 2 holds MANAGE_ROLES, 3 has no roles, 4 is an outsider.
// In the chat, 1 is OWNER, 2 is MODER, 3 is MUTED.
func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{store: memstore.New()}
	err := f.store.InTx(context.Background(), func(tx repositories.Tx) error {
		ctx := context.Background()
		community, err := tx.Communities().CreateCommunity(ctx, "physics", 1)
		if err != nil {
			return err
		}
		f.communityID = community.ID
		for _, user := range []int{1, 2, 3} {
			if _, err := tx.Communities().CreateParticipant(ctx, community.ID, user); err != nil {
				return err
			}
		}
		role, err := tx.Communities().CreateRole(ctx, models.Role{CommunityID: community.ID, Name: "mods", Permissions: []models.Permission{models.PermManageRoles}})
		if err != nil {
			return err
		}
		p2, _ := tx.Communities().GetParticipant(ctx, community.ID, 2)
		if err := tx.Communities().AssignRole(ctx, p2.ID, role.ID); err != nil {
			return err
		}

		chat, err := tx.Chats().CreateChat(ctx, "lab")
		if err != nil {
			return err
		}
		f.chatID = chat.ID
		for user, role := range map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleModer, 3: models.ChatRoleMuted} {
			if err := tx.Chats().AddParticipant(ctx, models.ChatParticipant{ChatID: chat.ID, UserID: user, Role: role, Activity: time.Now()}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f fixture) check(t *testing.T, actor int, scope Scope, req Requirement) (Access, error) {
	t.Helper()
	var access Access
	err := f.store.InTx(context.Background(), func(tx repositories.Tx) error {
		var err error
		access, err = NewGate().Check(context.Background(), tx, actor, scope, req)
		return err
	})
	return access, err
}

func TestCommunityOwnerBypasses(t *testing.T) {
	f := newFixture(t)

	access, err := f.check(t, 1, Community(f.communityID), Require(models.PermManageChannels))
	require.NoError(t, err)
	require.True(t, access.Owner)
	require.NotNil(t, access.Participant)
	require.Equal(t, 1, access.Participant.UserID)
}

func TestCommunityRolePermission(t *testing.T) {
	f := newFixture(t)

	access, err := f.check(t, 2, Community(f.communityID), Require(models.PermManageRoles))
	require.NoError(t, err)
	require.False(t, access.Owner)
	require.True(t, access.Has(models.PermManageRoles))

	_, err = f.check(t, 2, Community(f.communityID), Require(models.PermManageChannels))
	require.ErrorIs(t, err, ErrInsufficientPermission)
}

func TestCommunityMembershipOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.check(t, 3, Community(f.communityID), Requirement{})
	require.NoError(t, err)
}

func TestCommunityOutsiderRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.check(t, 4, Community(f.communityID), Require(models.PermManageRoles))
	require.ErrorIs(t, err, ErrParticipantNotFound)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, MsgParticipantNotFound, appErr.Message)
}

func TestOwnerOnlyRequirement(t *testing.T) {
	f := newFixture(t)

	_, err := f.check(t, 1, Chat(f.chatID), RequireOwner())
	require.NoError(t, err)

	_, err = f.check(t, 2, Chat(f.chatID), RequireOwner())
	require.ErrorIs(t, err, ErrInsufficientPermission)
}

func TestChatRolesDerivePermissions(t *testing.T) {
	f := newFixture(t)

	access, err := f.check(t, 2, Chat(f.chatID), Require(models.PermManageParticipants))
	require.NoError(t, err)
	require.Equal(t, models.ChatRoleModer, access.ChatParticipant.Role)

	_, err = f.check(t, 2, Chat(f.chatID), Require(models.PermInviteUsers))
	require.ErrorIs(t, err, ErrInsufficientPermission)

	_, err = f.check(t, 3, Chat(f.chatID), Require(models.PermSendMessages))
	require.ErrorIs(t, err, ErrInsufficientPermission)

	_, err = f.check(t, 4, Chat(f.chatID), Requirement{})
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestOutranks(t *testing.T) {
	require.True(t, Outranks(models.ChatRoleAdmin, models.ChatRoleModer))
	require.True(t, Outranks(models.ChatRoleOwner, models.ChatRoleAdmin))
	require.False(t, Outranks(models.ChatRoleModer, models.ChatRoleModer))
	require.False(t, Outranks(models.ChatRoleBasic, models.ChatRoleAdmin))
}

func TestRolePermissionsAreNested(t *testing.T) {
	order := []models.ChatRole{models.ChatRoleMuted, models.ChatRoleBasic, models.ChatRoleModer, models.ChatRoleAdmin}
	for i := 1; i < len(order); i++ {
		lower, higher := RolePermissions(order[i-1]), RolePermissions(order[i])
		for p := range lower {
			require.Contains(t, higher, p, "%s should keep %s", order[i], p)
		}
	}
}
