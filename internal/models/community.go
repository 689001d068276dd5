package models

import "time"

// Permission is a named capability granted through roles.
type Permission string

const (
	PermManageCommunity    Permission = "MANAGE_COMMUNITY"
	PermManageRoles        Permission = "MANAGE_ROLES"
	PermManageParticipants Permission = "MANAGE_PARTICIPANTS"
	PermManageChannels     Permission = "MANAGE_CHANNELS"
	PermManageInvitations  Permission = "MANAGE_INVITATIONS"
	PermSendMessages       Permission = "SEND_MESSAGES"
	PermManageMessages     Permission = "MANAGE_MESSAGES"
	PermInviteUsers        Permission = "INVITE_USERS"
)

var knownPermissions = map[Permission]struct{}{
	PermManageCommunity:    {},
	PermManageRoles:        {},
	PermManageParticipants: {},
	PermManageChannels:     {},
	PermManageInvitations:  {},
	PermSendMessages:       {},
	PermManageMessages:     {},
	PermInviteUsers:        {},
}

// Valid reports whether p is a known permission name.
func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

// Community is a space owned by one user.
type Community struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerID   int       `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant is a user's membership in a community. It is also a node in
// the user's ordered community list.
type Participant struct {
	ID          int  `db:"id" json:"id"`
	CommunityID int  `db:"community_id" json:"community_id"`
	UserID      int  `db:"user_id" json:"user_id"`
	PrevID      *int `db:"prev_id" json:"prev_id"`
	NextID      *int `db:"next_id" json:"next_id"`
}

// Role is a named permission set inside a community.
type Role struct {
	ID          int          `db:"id" json:"id"`
	CommunityID int          `db:"community_id" json:"community_id"`
	Name        string       `db:"name" json:"name"`
	Color       string       `db:"color" json:"color"`
	Permissions []Permission `db:"-" json:"permissions"`
}

// Category groups channels inside a community.
type Category struct {
	ID          int    `db:"id" json:"id"`
	CommunityID int    `db:"community_id" json:"community_id"`
	Name        string `db:"name" json:"name"`
	PrevID      *int   `db:"prev_id" json:"prev_id"`
	NextID      *int   `db:"next_id" json:"next_id"`
}

// Channel belongs to a category.
type Channel struct {
	ID          int    `db:"id" json:"id"`
	CommunityID int    `db:"community_id" json:"community_id"`
	CategoryID  int    `db:"category_id" json:"category_id"`
	Name        string `db:"name" json:"name"`
	Kind        string `db:"kind" json:"kind"`
	PrevID      *int   `db:"prev_id" json:"prev_id"`
	NextID      *int   `db:"next_id" json:"next_id"`
}

// Invitation admits users into a community by code.
type Invitation struct {
	ID          int        `db:"id" json:"id"`
	CommunityID int        `db:"community_id" json:"community_id"`
	Code        string     `db:"code" json:"code"`
	UsageLimit  *int       `db:"usage_limit" json:"usage_limit"`
	Expiry      *time.Time `db:"expiry" json:"expiry"`
	CreatedBy   int        `db:"created_by" json:"created_by"`
}

// Usable reports whether the invitation may admit one more user at now.
func (i Invitation) Usable(now time.Time) bool {
	if i.Expiry != nil && !now.Before(*i.Expiry) {
		return false
	}
	if i.UsageLimit != nil && *i.UsageLimit <= 0 {
		return false
	}
	return true
}
