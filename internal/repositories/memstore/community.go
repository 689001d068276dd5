package memstore

import (
	"context"
	"sort"
	"time"

	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

type communityRepo struct {
	s *state
}

func (r *communityRepo) CreateCommunity(ctx context.Context, name string, ownerID int) (models.Community, error) {
	c := models.Community{ID: r.s.next("communities"), Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	r.s.communities[c.ID] = c
	return c, nil
}

func (r *communityRepo) GetCommunity(ctx context.Context, communityID int) (models.Community, error) {
	c, ok := r.s.communities[communityID]
	if !ok {
		return models.Community{}, repositories.ErrCommunityNotFound
	}
	return c, nil
}

// LockCommunity is GetCommunity: memstore transactions are already serialized.
func (r *communityRepo) LockCommunity(ctx context.Context, communityID int) (models.Community, error) {
	return r.GetCommunity(ctx, communityID)
}

func (r *communityRepo) CommunitiesForUser(ctx context.Context, userID int) (map[int]models.Community, error) {
	result := map[int]models.Community{}
	for _, p := range r.s.participants {
		if p.UserID == userID {
			result[p.ID] = r.s.communities[p.CommunityID]
		}
	}
	return result, nil
}

func (r *communityRepo) CreateParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error) {
	if _, ok := r.s.communities[communityID]; !ok {
		return models.Participant{}, repositories.ErrCommunityNotFound
	}
	for _, p := range r.s.participants {
		if p.CommunityID == communityID && p.UserID == userID {
			return models.Participant{}, repositories.ErrAlreadyParticipant
		}
	}
	p := models.Participant{ID: r.s.next("participants"), CommunityID: communityID, UserID: userID}
	r.s.participants[p.ID] = p
	r.s.addNode(models.ListCommunities, p.ID, userID)
	return p, nil
}

func (r *communityRepo) GetParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error) {
	for _, p := range r.s.participants {
		if p.CommunityID == communityID && p.UserID == userID {
			p.PrevID, p.NextID = r.s.links(models.ListCommunities, p.ID)
			return p, nil
		}
	}
	return models.Participant{}, repositories.ErrParticipantNotFound
}

func (r *communityRepo) DeleteParticipant(ctx context.Context, participantID int) error {
	if _, ok := r.s.participants[participantID]; !ok {
		return repositories.ErrParticipantNotFound
	}
	delete(r.s.participants, participantID)
	delete(r.s.nodes[models.ListCommunities], participantID)
	delete(r.s.assignments, participantID)
	return nil
}

func (r *communityRepo) Permissions(ctx context.Context, participantID int) ([]models.Permission, error) {
	set := map[models.Permission]struct{}{}
	for roleID := range r.s.assignments[participantID] {
		for _, perm := range r.s.roles[roleID].Permissions {
			set[perm] = struct{}{}
		}
	}
	perms := make([]models.Permission, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms, nil
}

func (r *communityRepo) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	role.ID = r.s.next("roles")
	role.Permissions = append([]models.Permission(nil), role.Permissions...)
	r.s.roles[role.ID] = role
	return role, nil
}

func (r *communityRepo) GetRole(ctx context.Context, communityID int, roleID int) (models.Role, error) {
	role, ok := r.s.roles[roleID]
	if !ok || role.CommunityID != communityID {
		return models.Role{}, repositories.ErrRoleNotFound
	}
	role.Permissions = append([]models.Permission(nil), role.Permissions...)
	return role, nil
}

func (r *communityRepo) DeleteRole(ctx context.Context, roleID int) error {
	if _, ok := r.s.roles[roleID]; !ok {
		return repositories.ErrRoleNotFound
	}
	delete(r.s.roles, roleID)
	for _, roles := range r.s.assignments {
		delete(roles, roleID)
	}
	return nil
}

func (r *communityRepo) CountRoles(ctx context.Context, communityID int) (int, error) {
	count := 0
	for _, role := range r.s.roles {
		if role.CommunityID == communityID {
			count++
		}
	}
	return count, nil
}

func (r *communityRepo) AssignRole(ctx context.Context, participantID int, roleID int) error {
	if _, ok := r.s.participants[participantID]; !ok {
		return repositories.ErrParticipantNotFound
	}
	if _, ok := r.s.roles[roleID]; !ok {
		return repositories.ErrRoleNotFound
	}
	if r.s.assignments[participantID] == nil {
		r.s.assignments[participantID] = map[int]struct{}{}
	}
	r.s.assignments[participantID][roleID] = struct{}{}
	return nil
}

func (r *communityRepo) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	inv.ID = r.s.next("invitations")
	r.s.invitations[inv.ID] = inv
	return inv, nil
}

func (r *communityRepo) LockInvitation(ctx context.Context, code string) (models.Invitation, error) {
	for _, inv := range r.s.invitations {
		if inv.Code == code {
			return inv, nil
		}
	}
	return models.Invitation{}, repositories.ErrInvitationNotFound
}

func (r *communityRepo) SetInvitationLimit(ctx context.Context, invitationID int, limit *int) error {
	inv, ok := r.s.invitations[invitationID]
	if !ok {
		return repositories.ErrInvitationNotFound
	}
	inv.UsageLimit = clonePtr(limit)
	r.s.invitations[invitationID] = inv
	return nil
}

func (r *communityRepo) DeleteInvitation(ctx context.Context, invitationID int) error {
	if _, ok := r.s.invitations[invitationID]; !ok {
		return repositories.ErrInvitationNotFound
	}
	delete(r.s.invitations, invitationID)
	return nil
}

type channelRepo struct {
	s *state
}

func (r *channelRepo) CreateCategory(ctx context.Context, communityID int, name string) (models.Category, error) {
	cat := models.Category{ID: r.s.next("categories"), CommunityID: communityID, Name: name}
	r.s.categories[cat.ID] = cat
	r.s.addNode(models.ListCategories, cat.ID, communityID)
	return cat, nil
}

func (r *channelRepo) GetCategory(ctx context.Context, categoryID int) (models.Category, error) {
	cat, ok := r.s.categories[categoryID]
	if !ok {
		return models.Category{}, repositories.ErrCategoryNotFound
	}
	cat.PrevID, cat.NextID = r.s.links(models.ListCategories, cat.ID)
	return cat, nil
}

func (r *channelRepo) DeleteCategory(ctx context.Context, categoryID int) error {
	if _, ok := r.s.categories[categoryID]; !ok {
		return repositories.ErrCategoryNotFound
	}
	delete(r.s.categories, categoryID)
	delete(r.s.nodes[models.ListCategories], categoryID)
	for id, ch := range r.s.channels {
		if ch.CategoryID == categoryID {
			delete(r.s.channels, id)
			delete(r.s.nodes[models.ListChannels], id)
		}
	}
	return nil
}

func (r *channelRepo) Categories(ctx context.Context, communityID int) (map[int]models.Category, error) {
	result := map[int]models.Category{}
	for _, cat := range r.s.categories {
		if cat.CommunityID == communityID {
			cat.PrevID, cat.NextID = r.s.links(models.ListCategories, cat.ID)
			result[cat.ID] = cat
		}
	}
	return result, nil
}

func (r *channelRepo) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	ch.ID = r.s.next("channels")
	ch.PrevID, ch.NextID = nil, nil
	r.s.channels[ch.ID] = ch
	r.s.addNode(models.ListChannels, ch.ID, ch.CategoryID)
	return ch, nil
}

func (r *channelRepo) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	ch, ok := r.s.channels[channelID]
	if !ok {
		return models.Channel{}, repositories.ErrChannelNotFound
	}
	ch.PrevID, ch.NextID = r.s.links(models.ListChannels, ch.ID)
	return ch, nil
}

func (r *channelRepo) DeleteChannel(ctx context.Context, channelID int) error {
	if _, ok := r.s.channels[channelID]; !ok {
		return repositories.ErrChannelNotFound
	}
	delete(r.s.channels, channelID)
	delete(r.s.nodes[models.ListChannels], channelID)
	return nil
}

func (r *channelRepo) Channels(ctx context.Context, categoryID int) (map[int]models.Channel, error) {
	result := map[int]models.Channel{}
	for _, ch := range r.s.channels {
		if ch.CategoryID == categoryID {
			ch.PrevID, ch.NextID = r.s.links(models.ListChannels, ch.ID)
			result[ch.ID] = ch
		}
	}
	return result, nil
}
