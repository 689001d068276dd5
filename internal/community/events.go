package community

import (
	"net/http"

	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/permissions"
)

type newCommunityPayload struct {
	Name string `json:"name" validate:"required,max=100"`
}

type communityPayload struct {
	CommunityID int `json:"community_id" validate:"required,gt=0"`
}

type newRolePayload struct {
	CommunityID int                 `json:"community_id" validate:"required,gt=0"`
	Name        string              `json:"name" validate:"required,max=100"`
	Color       string              `json:"color" validate:"omitempty,hexcolor"`
	Permissions []models.Permission `json:"permissions" validate:"dive,required"`
}

type rolePayload struct {
	CommunityID int `json:"community_id" validate:"required,gt=0"`
	RoleID      int `json:"role_id" validate:"required,gt=0"`
}

type assignRolePayload struct {
	CommunityID int `json:"community_id" validate:"required,gt=0"`
	UserID      int `json:"user_id" validate:"required,gt=0"`
	RoleID      int `json:"role_id" validate:"required,gt=0"`
}

type newCategoryPayload struct {
	CommunityID int    `json:"community_id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required,max=100"`
	BeforeID    *int   `json:"before_id" validate:"omitempty,gt=0"`
}

type categoryPayload struct {
	CommunityID int  `json:"community_id" validate:"required,gt=0"`
	CategoryID  int  `json:"category_id" validate:"required,gt=0"`
	BeforeID    *int `json:"before_id" validate:"omitempty,gt=0"`
}

type newChannelPayload struct {
	CommunityID int    `json:"community_id" validate:"required,gt=0"`
	CategoryID  int    `json:"category_id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required,max=100"`
	Kind        string `json:"kind" validate:"required,oneof=text voice"`
	BeforeID    *int   `json:"before_id" validate:"omitempty,gt=0"`
}

type channelPayload struct {
	CommunityID int  `json:"community_id" validate:"required,gt=0"`
	CategoryID  int  `json:"category_id" validate:"required,gt=0"`
	ChannelID   int  `json:"channel_id" validate:"required,gt=0"`
	BeforeID    *int `json:"before_id" validate:"omitempty,gt=0"`
}

type moveCommunityPayload struct {
	CommunityID int  `json:"community_id" validate:"required,gt=0"`
	BeforeID    *int `json:"before_id" validate:"omitempty,gt=0"`
}

type joinPayload struct {
	Code string `json:"code" validate:"required,max=64"`
}

type invitationPayload struct {
	CommunityID   int  `json:"community_id" validate:"required,gt=0"`
	UsageLimit    *int `json:"usage_limit" validate:"omitempty,gt=0"`
	ExpirySeconds int  `json:"expiry_seconds" validate:"omitempty,gt=0"`
}

type scoped interface{ communityID() int }

func (p communityPayload) communityID() int     { return p.CommunityID }
func (p newRolePayload) communityID() int       { return p.CommunityID }
func (p rolePayload) communityID() int          { return p.CommunityID }
func (p assignRolePayload) communityID() int    { return p.CommunityID }
func (p newCategoryPayload) communityID() int   { return p.CommunityID }
func (p categoryPayload) communityID() int      { return p.CommunityID }
func (p newChannelPayload) communityID() int    { return p.CommunityID }
func (p channelPayload) communityID() int       { return p.CommunityID }
func (p moveCommunityPayload) communityID() int { return p.CommunityID }
func (p invitationPayload) communityID() int    { return p.CommunityID }

func inCommunity[P scoped](p *P) permissions.Scope {
	return permissions.Community((*p).communityID())
}

func toCommunity[P scoped](p *P) []string {
	return []string{Room((*p).communityID())}
}

func toRoles[P scoped](p *P) []string {
	return []string{RolesRoom((*p).communityID())}
}

// Register installs the community events on d.
func Register(d *dispatch.Dispatcher, s *Service) {
	manageChannels := permissions.Require(models.PermManageChannels)
	manageRoles := permissions.Require(models.PermManageRoles)

	dispatch.Register(d, dispatch.Event[newCommunityPayload]{
		Name: "new_community",
		Code: http.StatusCreated,
		Handle: func(c *dispatch.Context, p *newCommunityPayload) (any, error) {
			return s.Create(c, p.Name)
		},
	})
	dispatch.Register(d, dispatch.Event[communityPayload]{
		Name:  "open_community",
		Scope: inCommunity[communityPayload],
		Handle: func(c *dispatch.Context, p *communityPayload) (any, error) {
			return s.Open(c, p.CommunityID)
		},
	})
	dispatch.Register(d, dispatch.Event[communityPayload]{
		Name:  "close_community",
		Scope: inCommunity[communityPayload],
		Handle: func(c *dispatch.Context, p *communityPayload) (any, error) {
			return s.Close(c, p.CommunityID)
		},
	})
	dispatch.Register(d, dispatch.Event[communityPayload]{
		Name:    "open_roles",
		Scope:   inCommunity[communityPayload],
		Require: manageRoles,
		Handle: func(c *dispatch.Context, p *communityPayload) (any, error) {
			return s.OpenRoles(c, p.CommunityID)
		},
	})
	dispatch.Register(d, dispatch.Event[communityPayload]{
		Name:    "close_roles",
		Scope:   inCommunity[communityPayload],
		Require: manageRoles,
		Handle: func(c *dispatch.Context, p *communityPayload) (any, error) {
			return s.CloseRoles(c, p.CommunityID)
		},
	})
	dispatch.Register(d, dispatch.Event[newRolePayload]{
		Name:    "new_role",
		Scope:   inCommunity[newRolePayload],
		Require: manageRoles,
		Code:    http.StatusCreated,
		Echo:    toRoles[newRolePayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *newRolePayload) (any, error) {
			return s.NewRole(c, models.Role{CommunityID: p.CommunityID, Name: p.Name, Color: p.Color, Permissions: p.Permissions})
		},
	})
	dispatch.Register(d, dispatch.Event[rolePayload]{
		Name:    "delete_role",
		Scope:   inCommunity[rolePayload],
		Require: manageRoles,
		Echo:    toRoles[rolePayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *rolePayload) (any, error) {
			return s.DeleteRole(c, p.CommunityID, p.RoleID)
		},
	})
	dispatch.Register(d, dispatch.Event[assignRolePayload]{
		Name:    "assign_role",
		Scope:   inCommunity[assignRolePayload],
		Require: permissions.Require(models.PermManageParticipants),
		Echo:    toRoles[assignRolePayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *assignRolePayload) (any, error) {
			return s.AssignRole(c, p.CommunityID, p.UserID, p.RoleID)
		},
	})
	dispatch.Register(d, dispatch.Event[newCategoryPayload]{
		Name:    "new_category",
		Scope:   inCommunity[newCategoryPayload],
		Require: manageChannels,
		Code:    http.StatusCreated,
		Echo:    toCommunity[newCategoryPayload],
		Handle: func(c *dispatch.Context, p *newCategoryPayload) (any, error) {
			return s.NewCategory(c, p.CommunityID, p.Name, p.BeforeID)
		},
	})
	dispatch.Register(d, dispatch.Event[categoryPayload]{
		Name:    "delete_category",
		Scope:   inCommunity[categoryPayload],
		Require: manageChannels,
		Echo:    toCommunity[categoryPayload],
		Handle: func(c *dispatch.Context, p *categoryPayload) (any, error) {
			return s.DeleteCategory(c, p.CommunityID, p.CategoryID)
		},
	})
	dispatch.Register(d, dispatch.Event[categoryPayload]{
		Name:    "move_category",
		Scope:   inCommunity[categoryPayload],
		Require: manageChannels,
		Echo:    toCommunity[categoryPayload],
		Handle: func(c *dispatch.Context, p *categoryPayload) (any, error) {
			return s.MoveCategory(c, p.CommunityID, p.CategoryID, p.BeforeID)
		},
	})
	dispatch.Register(d, dispatch.Event[newChannelPayload]{
		Name:    "new_channel",
		Scope:   inCommunity[newChannelPayload],
		Require: manageChannels,
		Code:    http.StatusCreated,
		Echo:    toCommunity[newChannelPayload],
		Handle: func(c *dispatch.Context, p *newChannelPayload) (any, error) {
			ch := models.Channel{CommunityID: p.CommunityID, CategoryID: p.CategoryID, Name: p.Name, Kind: p.Kind}
			return s.NewChannel(c, ch, p.BeforeID)
		},
	})
	dispatch.Register(d, dispatch.Event[channelPayload]{
		Name:    "delete_channel",
		Scope:   inCommunity[channelPayload],
		Require: manageChannels,
		Echo:    toCommunity[channelPayload],
		Handle: func(c *dispatch.Context, p *channelPayload) (any, error) {
			return s.DeleteChannel(c, p.CommunityID, p.CategoryID, p.ChannelID)
		},
	})
	dispatch.Register(d, dispatch.Event[channelPayload]{
		Name:    "move_channel",
		Scope:   inCommunity[channelPayload],
		Require: manageChannels,
		Echo:    toCommunity[channelPayload],
		Handle: func(c *dispatch.Context, p *channelPayload) (any, error) {
			return s.MoveChannel(c, p.CommunityID, p.CategoryID, p.ChannelID, p.BeforeID)
		},
	})
	dispatch.Register(d, dispatch.Event[moveCommunityPayload]{
		Name:  "move_community",
		Scope: inCommunity[moveCommunityPayload],
		Handle: func(c *dispatch.Context, p *moveCommunityPayload) (any, error) {
			return s.MoveCommunity(c, p.BeforeID)
		},
	})
	dispatch.Register(d, dispatch.Event[joinPayload]{
		Name: "join_community",
		Handle: func(c *dispatch.Context, p *joinPayload) (any, error) {
			return s.Join(c, p.Code)
		},
	})
	dispatch.Register(d, dispatch.Event[communityPayload]{
		Name:  "leave_community",
		Scope: inCommunity[communityPayload],
		Echo:  toCommunity[communityPayload],
		Handle: func(c *dispatch.Context, p *communityPayload) (any, error) {
			return s.Leave(c, p.CommunityID)
		},
	})
	dispatch.Register(d, dispatch.Event[invitationPayload]{
		Name:    "new_invitation",
		Scope:   inCommunity[invitationPayload],
		Require: permissions.Require(models.PermManageInvitations),
		Code:    http.StatusCreated,
		Audit:   true,
		Handle: func(c *dispatch.Context, p *invitationPayload) (any, error) {
			return s.NewInvitation(c, p.CommunityID, p.UsageLimit, p.ExpirySeconds)
		},
	})
}
