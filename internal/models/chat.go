package models

import "time"

// ChatRole orders chat participants. Higher ranks may manage lower ones.
type ChatRole string

const (
	ChatRoleMuted ChatRole = "MUTED"
	ChatRoleBasic ChatRole = "BASIC"
	ChatRoleModer ChatRole = "MODER"
	ChatRoleAdmin ChatRole = "ADMIN"
	ChatRoleOwner ChatRole = "OWNER"
)

var chatRoleRanks = map[ChatRole]int{
	ChatRoleMuted: 0,
	ChatRoleBasic: 1,
	ChatRoleModer: 2,
	ChatRoleAdmin: 3,
	ChatRoleOwner: 4,
}

// Rank returns the position of r in the hierarchy, or -1 when unknown.
func (r ChatRole) Rank() int {
	if rank, ok := chatRoleRanks[r]; ok {
		return rank
	}
	return -1
}

// Valid reports whether r is a known role.
func (r ChatRole) Valid() bool {
	return r.Rank() >= 0
}

// Chat is a conversation with ranked participants.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChatParticipant is a user's state inside a chat.
type ChatParticipant struct {
	ChatID   int       `db:"chat_id" json:"chat_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	Role     ChatRole  `db:"role" json:"role"`
	Online   int       `db:"online" json:"online"`
	Unread   int       `db:"unread" json:"unread"`
	Activity time.Time `db:"activity" json:"activity"`
}
