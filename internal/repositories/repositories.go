package repositories

import (
	"context"
	"errors"
	"time"

	"collab-service/internal/models"
)

var (
	ErrNodeNotFound            = errors.New("list node not found")
	ErrCommunityNotFound       = errors.New("community not found")
	ErrParticipantNotFound     = errors.New("participant not found")
	ErrRoleNotFound            = errors.New("role not found")
	ErrCategoryNotFound        = errors.New("category not found")
	ErrChannelNotFound         = errors.New("channel not found")
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrChatNotFound            = errors.New("chat not found")
	ErrChatParticipantNotFound = errors.New("chat participant not found")
	ErrAlreadyParticipant      = errors.New("already a participant")
	ErrMessageNotFound         = errors.New("message not found")
)

// Store runs a unit of work atomically. A non-nil error from fn rolls back
// every write made through the Tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	List(kind models.ListKind) ListRepository
	Communities() CommunityRepository
	Channels() ChannelRepository
	Chats() ChatRepository
	Messages() MessageRepository
}

// ListRepository reads and rewrites the linkage columns of one ordered table.
type ListRepository interface {
	// LockScope serializes mutations of one scope until the transaction ends.
	LockScope(ctx context.Context, scope int) error
	GetNode(ctx context.Context, id int) (models.ListNode, error)
	// Tails returns the nodes of scope without a successor, excluding excludeID.
	Tails(ctx context.Context, scope int, excludeID int) ([]models.ListNode, error)
	SetPrev(ctx context.Context, id int, prev *int) error
	SetNext(ctx context.Context, id int, next *int) error
	// Chain walks next pointers from the head(s) of scope, stopping past maxDepth.
	Chain(ctx context.Context, scope int, maxDepth int) ([]models.ListNode, error)
	Count(ctx context.Context, scope int) (int, error)
}

// CommunityRepository covers communities, their participants, roles and invitations.
type CommunityRepository interface {
	CreateCommunity(ctx context.Context, name string, ownerID int) (models.Community, error)
	GetCommunity(ctx context.Context, communityID int) (models.Community, error)
	CommunitiesForUser(ctx context.Context, userID int) (map[int]models.Community, error)

	CreateParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error)
	GetParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error)
	DeleteParticipant(ctx context.Context, participantID int) error
	Permissions(ctx context.Context, participantID int) ([]models.Permission, error)

	CreateRole(ctx context.Context, role models.Role) (models.Role, error)
	GetRole(ctx context.Context, communityID int, roleID int) (models.Role, error)
	DeleteRole(ctx context.Context, roleID int) error
	CountRoles(ctx context.Context, communityID int) (int, error)
	// LockCommunity row-locks a community until the transaction ends.
	LockCommunity(ctx context.Context, communityID int) (models.Community, error)
	AssignRole(ctx context.Context, participantID int, roleID int) error

	CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error)
	LockInvitation(ctx context.Context, code string) (models.Invitation, error)
	SetInvitationLimit(ctx context.Context, invitationID int, limit *int) error
	DeleteInvitation(ctx context.Context, invitationID int) error
}

// ChannelRepository covers categories and the channels inside them.
type ChannelRepository interface {
	CreateCategory(ctx context.Context, communityID int, name string) (models.Category, error)
	GetCategory(ctx context.Context, categoryID int) (models.Category, error)
	DeleteCategory(ctx context.Context, categoryID int) error
	Categories(ctx context.Context, communityID int) (map[int]models.Category, error)

	CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error)
	GetChannel(ctx context.Context, channelID int) (models.Channel, error)
	DeleteChannel(ctx context.Context, channelID int) error
	Channels(ctx context.Context, categoryID int) (map[int]models.Channel, error)
}

// ChatRepository covers chats and participant state.
type ChatRepository interface {
	CreateChat(ctx context.Context, name string) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	DeleteChat(ctx context.Context, chatID int) error

	AddParticipant(ctx context.Context, p models.ChatParticipant) error
	// LockParticipant reads a participant row and holds it until the transaction ends.
	LockParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error)
	UpdateParticipant(ctx context.Context, p models.ChatParticipant) error
	DeleteParticipant(ctx context.Context, chatID int, userID int) error
	ListParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error)
	// IncrementUnreadOffline bumps unread for every offline participant except userID.
	IncrementUnreadOffline(ctx context.Context, chatID int, exceptUserID int) ([]models.ChatParticipant, error)
	// NextOwner picks the successor by role rank desc, activity desc, unread asc.
	NextOwner(ctx context.Context, chatID int) (models.ChatParticipant, error)
}

// MessageRepository covers chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID int, senderID int, content string, sent time.Time) (models.Message, error)
	GetMessage(ctx context.Context, chatID int, messageID int) (models.Message, error)
	UpdateMessage(ctx context.Context, messageID int, content string, updated time.Time) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	// ListMessages returns up to limit messages older than beforeID (0 means newest), oldest first.
	ListMessages(ctx context.Context, chatID int, beforeID int, limit int) ([]models.Message, error)
}
