// Package chat implements chat presence, unread accounting and ranked
// participant management on top of the dispatcher.
package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"collab-service/internal/apperrors"
	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
)

// Push events sent outside the ack/echo path.
const (
	EventUnreadCleared = "unread_cleared"
	EventUnreadUpdated = "unread_updated"
	EventOwnerChanged  = "owner_changed"
	EventChatDeleted   = "chat_deleted"
	EventChatInvited   = "chat_invited"
	EventKicked        = "kicked"
)

const roomPrefix = "chat-"

// Room names the broadcast room of a chat.
func Room(chatID int) string {
	return roomPrefix + strconv.Itoa(chatID)
}

// RoomChatID parses a room produced by Room.
func RoomChatID(room string) (int, bool) {
	rest, ok := strings.CutPrefix(room, roomPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Membership reports a participant change in a chat.
type Membership struct {
	ChatID int             `json:"chat_id"`
	UserID int             `json:"user_id"`
	Role   models.ChatRole `json:"role,omitempty"`
}

// Departure is the result of leaving a chat.
type Departure struct {
	ChatID   int  `json:"chat_id"`
	UserID   int  `json:"user_id"`
	NewOwner int  `json:"new_owner,omitempty"`
	Deleted  bool `json:"deleted"`
}

// OwnerChange reports an ownership transfer.
type OwnerChange struct {
	ChatID        int `json:"chat_id"`
	PreviousOwner int `json:"previous_owner"`
	Owner         int `json:"owner"`
}

// Engine mutates chat state within the dispatcher's transaction. The actor's
// participant row is already locked by the permission gate.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Open marks one more live session of the actor. Going from offline to
// online clears the unread counter. A connection already in the chat room
// counts once.
func (e *Engine) Open(c *dispatch.Context, chatID int) (models.ChatParticipant, error) {
	p := *c.Access.ChatParticipant
	if c.Joined(Room(chatID)) {
		return p, nil
	}
	wasOffline := p.Online == 0
	p.Online++
	if wasOffline && p.Unread != 0 {
		p.Unread = 0
		c.Notify(p.UserID, EventUnreadCleared, models.UnreadNotice{ChatID: chatID, UserID: p.UserID})
	}
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, p); err != nil {
		return models.ChatParticipant{}, fmt.Errorf("open chat: %w", err)
	}
	c.Join(Room(chatID))
	return p, nil
}

// Close ends one live session. Online never drops below zero, and a
// connection that never opened the chat leaves it untouched.
func (e *Engine) Close(c *dispatch.Context, chatID int) (models.ChatParticipant, error) {
	p := *c.Access.ChatParticipant
	if !c.Joined(Room(chatID)) {
		return p, nil
	}
	if err := e.decrement(c, p); err != nil {
		return models.ChatParticipant{}, err
	}
	c.Leave(Room(chatID))
	if p.Online > 0 {
		p.Online--
	}
	return p, nil
}

// CloseOnDisconnect is Close for a connection that went away: no gate, and
// a participant removed meanwhile is ignored.
func (e *Engine) CloseOnDisconnect(c *dispatch.Context, chatID int) error {
	p, err := c.Tx.Chats().LockParticipant(c.Ctx, chatID, c.UserID())
	if errors.Is(err, repositories.ErrChatParticipantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.decrement(c, p)
}

func (e *Engine) decrement(c *dispatch.Context, p models.ChatParticipant) error {
	if p.Online == 0 {
		return nil
	}
	p.Online--
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, p); err != nil {
		return fmt.Errorf("close chat: %w", err)
	}
	return nil
}

// SendMessage stores a message, refreshes the sender's activity and bumps
// the unread counter of every offline participant.
func (e *Engine) SendMessage(c *dispatch.Context, chatID int, content string) (models.Message, error) {
	now := e.now().UTC()
	msg, err := c.Tx.Messages().CreateMessage(c.Ctx, chatID, c.UserID(), content, now)
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	sender := *c.Access.ChatParticipant
	sender.Activity = now
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, sender); err != nil {
		return models.Message{}, fmt.Errorf("update activity: %w", err)
	}

	offline, err := c.Tx.Chats().IncrementUnreadOffline(c.Ctx, chatID, sender.UserID)
	if err != nil {
		return models.Message{}, fmt.Errorf("increment unread: %w", err)
	}
	for _, p := range offline {
		c.Notify(p.UserID, EventUnreadUpdated, models.UnreadNotice{ChatID: chatID, UserID: p.UserID, Unread: p.Unread})
	}
	return msg, nil
}

// EditMessage lets a sender rewrite their own message.
func (e *Engine) EditMessage(c *dispatch.Context, chatID, messageID int, content string) (models.Message, error) {
	msg, err := e.message(c, chatID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != c.UserID() {
		return models.Message{}, apperrors.PermissionDenied(permissions.MsgInsufficientPermission)
	}
	updated, err := c.Tx.Messages().UpdateMessage(c.Ctx, messageID, content, e.now().UTC())
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	return updated, nil
}

// DeleteMessage removes a message sent by the actor, or any message when the
// actor holds MANAGE_MESSAGES.
func (e *Engine) DeleteMessage(c *dispatch.Context, chatID, messageID int) (models.Message, error) {
	msg, err := e.message(c, chatID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != c.UserID() && !c.Access.Has(models.PermManageMessages) {
		return models.Message{}, apperrors.PermissionDenied(permissions.MsgInsufficientPermission)
	}
	if err := c.Tx.Messages().DeleteMessage(c.Ctx, messageID); err != nil {
		return models.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return msg, nil
}

func (e *Engine) message(c *dispatch.Context, chatID, messageID int) (models.Message, error) {
	msg, err := c.Tx.Messages().GetMessage(c.Ctx, chatID, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperrors.NotFound("Message not found")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// NewChat creates a chat owned by the actor.
func (e *Engine) NewChat(c *dispatch.Context, name string) (models.Chat, error) {
	chat, err := c.Tx.Chats().CreateChat(c.Ctx, name)
	if err != nil {
		return models.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	owner := models.ChatParticipant{ChatID: chat.ID, UserID: c.UserID(), Role: models.ChatRoleOwner, Activity: e.now().UTC()}
	if err := c.Tx.Chats().AddParticipant(c.Ctx, owner); err != nil {
		return models.Chat{}, fmt.Errorf("add owner: %w", err)
	}
	return chat, nil
}

// Invite adds userID with a role strictly below the actor's.
func (e *Engine) Invite(c *dispatch.Context, chatID, userID int, role models.ChatRole) (Membership, error) {
	if role == "" {
		role = models.ChatRoleBasic
	}
	if err := e.grantable(c, role); err != nil {
		return Membership{}, err
	}

	p := models.ChatParticipant{ChatID: chatID, UserID: userID, Role: role, Activity: e.now().UTC()}
	err := c.Tx.Chats().AddParticipant(c.Ctx, p)
	if errors.Is(err, repositories.ErrAlreadyParticipant) {
		return Membership{}, apperrors.Conflict("User is already a participant")
	}
	if err != nil {
		return Membership{}, fmt.Errorf("add participant: %w", err)
	}

	chat, err := c.Tx.Chats().GetChat(c.Ctx, chatID)
	if err != nil {
		return Membership{}, fmt.Errorf("get chat: %w", err)
	}
	c.Notify(userID, EventChatInvited, chat)
	return Membership{ChatID: chatID, UserID: userID, Role: role}, nil
}

// Kick removes a participant the actor outranks.
func (e *Engine) Kick(c *dispatch.Context, chatID, userID int) (Departure, error) {
	target, err := e.peer(c, chatID, userID)
	if err != nil {
		return Departure{}, err
	}
	out, err := e.depart(c, target)
	if err != nil {
		return Departure{}, err
	}
	c.Notify(userID, EventKicked, Membership{ChatID: chatID, UserID: userID})
	return out, nil
}

// ChangeRole re-ranks a participant the actor outranks to a role also below
// the actor.
func (e *Engine) ChangeRole(c *dispatch.Context, chatID, userID int, role models.ChatRole) (Membership, error) {
	if err := e.grantable(c, role); err != nil {
		return Membership{}, err
	}
	target, err := e.peer(c, chatID, userID)
	if err != nil {
		return Membership{}, err
	}
	target.Role = role
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, target); err != nil {
		return Membership{}, fmt.Errorf("change role: %w", err)
	}
	return Membership{ChatID: chatID, UserID: userID, Role: role}, nil
}

// AssignOwner transfers ownership to another participant. The previous owner
// becomes ADMIN.
func (e *Engine) AssignOwner(c *dispatch.Context, chatID, userID int) (OwnerChange, error) {
	actor := *c.Access.ChatParticipant
	if userID == actor.UserID {
		return OwnerChange{}, apperrors.Validation("Cannot transfer ownership to yourself")
	}
	target, err := e.lockTarget(c, chatID, userID)
	if err != nil {
		return OwnerChange{}, err
	}

	actor.Role = models.ChatRoleAdmin
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, actor); err != nil {
		return OwnerChange{}, fmt.Errorf("demote owner: %w", err)
	}
	target.Role = models.ChatRoleOwner
	if err := c.Tx.Chats().UpdateParticipant(c.Ctx, target); err != nil {
		return OwnerChange{}, fmt.Errorf("promote owner: %w", err)
	}
	return OwnerChange{ChatID: chatID, PreviousOwner: actor.UserID, Owner: userID}, nil
}

// Leave removes the actor from the chat.
func (e *Engine) Leave(c *dispatch.Context, chatID int) (Departure, error) {
	return e.depart(c, *c.Access.ChatParticipant)
}

// depart deletes p. When p owned the chat the best remaining participant
// inherits it; with nobody left the chat itself is deleted.
func (e *Engine) depart(c *dispatch.Context, p models.ChatParticipant) (Departure, error) {
	chats := c.Tx.Chats()
	out := Departure{ChatID: p.ChatID, UserID: p.UserID}

	if err := chats.DeleteParticipant(c.Ctx, p.ChatID, p.UserID); err != nil {
		return Departure{}, fmt.Errorf("delete participant: %w", err)
	}
	c.LeaveUser(Room(p.ChatID), p.UserID)
	if p.Role != models.ChatRoleOwner {
		return out, nil
	}

	next, err := chats.NextOwner(c.Ctx, p.ChatID)
	if errors.Is(err, repositories.ErrChatParticipantNotFound) {
		if err := chats.DeleteChat(c.Ctx, p.ChatID); err != nil {
			return Departure{}, fmt.Errorf("delete chat: %w", err)
		}
		c.CloseRoom(Room(p.ChatID))
		c.Notify(p.UserID, EventChatDeleted, Membership{ChatID: p.ChatID, UserID: p.UserID})
		out.Deleted = true
		return out, nil
	}
	if err != nil {
		return Departure{}, fmt.Errorf("select owner: %w", err)
	}

	next.Role = models.ChatRoleOwner
	if err := chats.UpdateParticipant(c.Ctx, next); err != nil {
		return Departure{}, fmt.Errorf("promote owner: %w", err)
	}
	out.NewOwner = next.UserID
	c.Emit(Room(p.ChatID), EventOwnerChanged, OwnerChange{ChatID: p.ChatID, PreviousOwner: p.UserID, Owner: next.UserID})
	return out, nil
}

// grantable rejects roles the actor may not hand out.
func (e *Engine) grantable(c *dispatch.Context, role models.ChatRole) error {
	if !role.Valid() {
		return apperrors.Validation("Validation Error", apperrors.FieldError{Field: "role", Rule: "oneof"})
	}
	if role == models.ChatRoleOwner || !permissions.Outranks(c.Access.ChatParticipant.Role, role) {
		return apperrors.PermissionDenied(permissions.MsgInsufficientPermission)
	}
	return nil
}

// peer locks another participant and checks the actor outranks it.
func (e *Engine) peer(c *dispatch.Context, chatID, userID int) (models.ChatParticipant, error) {
	if userID == c.UserID() {
		return models.ChatParticipant{}, apperrors.PermissionDenied(permissions.MsgInsufficientPermission)
	}
	target, err := e.lockTarget(c, chatID, userID)
	if err != nil {
		return models.ChatParticipant{}, err
	}
	if !permissions.Outranks(c.Access.ChatParticipant.Role, target.Role) {
		return models.ChatParticipant{}, apperrors.PermissionDenied(permissions.MsgInsufficientPermission)
	}
	return target, nil
}

func (e *Engine) lockTarget(c *dispatch.Context, chatID, userID int) (models.ChatParticipant, error) {
	target, err := c.Tx.Chats().LockParticipant(c.Ctx, chatID, userID)
	if errors.Is(err, repositories.ErrChatParticipantNotFound) {
		return models.ChatParticipant{}, apperrors.NotFound("Target participant not found")
	}
	if err != nil {
		return models.ChatParticipant{}, fmt.Errorf("lock participant: %w", err)
	}
	return target, nil
}
