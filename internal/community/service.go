// Package community implements community membership, roles, invitations and
// the ordered category, channel and per-user community lists.
package community

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"collab-service/internal/apperrors"
	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/orderedlist"
	"collab-service/internal/repositories"
)

// Limits caps how many rows one scope may hold.
type Limits struct {
	CommunitiesPerUser     int
	CategoriesPerCommunity int
	ChannelsPerCategory    int
	RolesPerCommunity      int
}

// DefaultLimits are used when no override is configured.
var DefaultLimits = Limits{
	CommunitiesPerUser:     100,
	CategoriesPerCommunity: 50,
	ChannelsPerCategory:    50,
	RolesPerCommunity:      250,
}

// Room names the broadcast room of a community.
func Room(communityID int) string {
	return "community-" + strconv.Itoa(communityID)
}

// RolesRoom names the room of participants watching a community's roles.
func RolesRoom(communityID int) string {
	return "roles-" + strconv.Itoa(communityID)
}

// Membership reports a user joining or leaving a community.
type Membership struct {
	CommunityID int `json:"community_id"`
	UserID      int `json:"user_id"`
}

// RoleAssignment reports a role granted to a participant.
type RoleAssignment struct {
	CommunityID int `json:"community_id"`
	UserID      int `json:"user_id"`
	RoleID      int `json:"role_id"`
}

// Removal reports a deleted row.
type Removal struct {
	CommunityID int `json:"community_id"`
	ID          int `json:"id"`
}

// Service runs community operations inside the dispatcher's transaction.
type Service struct {
	lists  *orderedlist.Store
	limits Limits
	now    func() time.Time
}

func NewService(lists *orderedlist.Store, limits Limits) *Service {
	return &Service{lists: lists, limits: limits, now: time.Now}
}

// Create makes a community owned by the actor and appends it to the actor's list.
func (s *Service) Create(c *dispatch.Context, name string) (models.Community, error) {
	list := c.Tx.List(models.ListCommunities)
	if err := s.ensureRoom(c, list, c.UserID(), s.limits.CommunitiesPerUser, "communities"); err != nil {
		return models.Community{}, err
	}
	community, err := c.Tx.Communities().CreateCommunity(c.Ctx, name, c.UserID())
	if err != nil {
		return models.Community{}, fmt.Errorf("create community: %w", err)
	}
	participant, err := c.Tx.Communities().CreateParticipant(c.Ctx, community.ID, c.UserID())
	if err != nil {
		return models.Community{}, fmt.Errorf("create owner: %w", err)
	}
	if _, err := s.lists.Insert(c.Ctx, list, c.UserID(), participant.ID, nil); err != nil {
		return models.Community{}, err
	}
	return community, nil
}

// Open subscribes the connection to community broadcasts.
func (s *Service) Open(c *dispatch.Context, communityID int) (models.Community, error) {
	community, err := c.Tx.Communities().GetCommunity(c.Ctx, communityID)
	if err != nil {
		return models.Community{}, fmt.Errorf("get community: %w", err)
	}
	c.Join(Room(communityID))
	return community, nil
}

func (s *Service) Close(c *dispatch.Context, communityID int) (Membership, error) {
	c.Leave(Room(communityID))
	return Membership{CommunityID: communityID, UserID: c.UserID()}, nil
}

// Join consumes one use of an invitation and adds the actor to its community.
func (s *Service) Join(c *dispatch.Context, code string) (models.Community, error) {
	repo := c.Tx.Communities()
	inv, err := repo.LockInvitation(c.Ctx, code)
	if errors.Is(err, repositories.ErrInvitationNotFound) {
		return models.Community{}, apperrors.NotFound("Invitation not found")
	}
	if err != nil {
		return models.Community{}, fmt.Errorf("lock invitation: %w", err)
	}
	if !inv.Usable(s.now()) {
		return models.Community{}, apperrors.Conflict("Invitation is no longer valid")
	}

	list := c.Tx.List(models.ListCommunities)
	if err := s.ensureRoom(c, list, c.UserID(), s.limits.CommunitiesPerUser, "communities"); err != nil {
		return models.Community{}, err
	}
	participant, err := repo.CreateParticipant(c.Ctx, inv.CommunityID, c.UserID())
	if errors.Is(err, repositories.ErrAlreadyParticipant) {
		return models.Community{}, apperrors.Conflict("Already a participant")
	}
	if err != nil {
		return models.Community{}, fmt.Errorf("create participant: %w", err)
	}

	if inv.UsageLimit != nil {
		left := *inv.UsageLimit - 1
		if left == 0 {
			err = repo.DeleteInvitation(c.Ctx, inv.ID)
		} else {
			err = repo.SetInvitationLimit(c.Ctx, inv.ID, &left)
		}
		if err != nil {
			return models.Community{}, fmt.Errorf("consume invitation: %w", err)
		}
	}

	if _, err := s.lists.Insert(c.Ctx, list, c.UserID(), participant.ID, nil); err != nil {
		return models.Community{}, err
	}
	community, err := repo.GetCommunity(c.Ctx, inv.CommunityID)
	if err != nil {
		return models.Community{}, fmt.Errorf("get community: %w", err)
	}
	c.Emit(Room(community.ID), "join_community", Membership{CommunityID: community.ID, UserID: c.UserID()})
	return community, nil
}

// Leave removes the actor from a community. The owner cannot leave.
func (s *Service) Leave(c *dispatch.Context, communityID int) (Membership, error) {
	if c.Access.Owner {
		return Membership{}, apperrors.Conflict("Owner cannot leave the community")
	}
	participant := c.Access.Participant
	if err := s.lists.Remove(c.Ctx, c.Tx.List(models.ListCommunities), c.UserID(), participant.ID); err != nil {
		return Membership{}, err
	}
	if err := c.Tx.Communities().DeleteParticipant(c.Ctx, participant.ID); err != nil {
		return Membership{}, fmt.Errorf("delete participant: %w", err)
	}
	c.LeaveUser(Room(communityID), c.UserID())
	c.LeaveUser(RolesRoom(communityID), c.UserID())
	return Membership{CommunityID: communityID, UserID: c.UserID()}, nil
}

// MoveCommunity reorders the actor's own community list. beforeCommunityID
// names the community to land in front of; nil moves to the end.
func (s *Service) MoveCommunity(c *dispatch.Context, beforeCommunityID *int) (models.ListNode, error) {
	var before *int
	if beforeCommunityID != nil {
		p, err := c.Tx.Communities().GetParticipant(c.Ctx, *beforeCommunityID, c.UserID())
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return models.ListNode{}, apperrors.NotFound("Community not found")
		}
		if err != nil {
			return models.ListNode{}, fmt.Errorf("resolve target: %w", err)
		}
		before = &p.ID
	}
	node, err := s.lists.Move(c.Ctx, c.Tx.List(models.ListCommunities), c.UserID(), c.Access.Participant.ID, before)
	if err != nil {
		return models.ListNode{}, err
	}
	c.Notify(c.UserID(), "move_community", node)
	return node, nil
}

// NewInvitation creates an invitation code for a community.
func (s *Service) NewInvitation(c *dispatch.Context, communityID int, usageLimit *int, expirySeconds int) (models.Invitation, error) {
	inv := models.Invitation{CommunityID: communityID, Code: newCode(), UsageLimit: usageLimit, CreatedBy: c.UserID()}
	if expirySeconds > 0 {
		expiry := s.now().UTC().Add(time.Duration(expirySeconds) * time.Second)
		inv.Expiry = &expiry
	}
	created, err := c.Tx.Communities().CreateInvitation(c.Ctx, inv)
	if err != nil {
		return models.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	return created, nil
}

// ensureRoom locks scope and rejects the insert once it holds max rows.
func (s *Service) ensureRoom(c *dispatch.Context, list repositories.ListRepository, scope, max int, what string) error {
	if err := list.LockScope(c.Ctx, scope); err != nil {
		return fmt.Errorf("lock scope: %w", err)
	}
	n, err := list.Count(c.Ctx, scope)
	if err != nil {
		return fmt.Errorf("count %s: %w", what, err)
	}
	if n >= max {
		return apperrors.Conflict(fmt.Sprintf("Limit of %d %s reached", max, what))
	}
	return nil
}

func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
