package chat

import (
	"context"
	"log"
	"net/http"

	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/permissions"
)

type newChatPayload struct {
	Name string `json:"name" validate:"required,max=100"`
}

type chatPayload struct {
	ChatID int `json:"chat_id" validate:"required,gt=0"`
}

type sendMessagePayload struct {
	ChatID  int    `json:"chat_id" validate:"required,gt=0"`
	Content string `json:"content" validate:"required,max=4000"`
}

type editMessagePayload struct {
	ChatID    int    `json:"chat_id" validate:"required,gt=0"`
	MessageID int    `json:"message_id" validate:"required,gt=0"`
	Content   string `json:"content" validate:"required,max=4000"`
}

type deleteMessagePayload struct {
	ChatID    int `json:"chat_id" validate:"required,gt=0"`
	MessageID int `json:"message_id" validate:"required,gt=0"`
}

type memberPayload struct {
	ChatID int `json:"chat_id" validate:"required,gt=0"`
	UserID int `json:"user_id" validate:"required,gt=0"`
}

type invitePayload struct {
	ChatID int             `json:"chat_id" validate:"required,gt=0"`
	UserID int             `json:"user_id" validate:"required,gt=0"`
	Role   models.ChatRole `json:"role" validate:"omitempty,oneof=MUTED BASIC MODER ADMIN"`
}

type changeRolePayload struct {
	ChatID int             `json:"chat_id" validate:"required,gt=0"`
	UserID int             `json:"user_id" validate:"required,gt=0"`
	Role   models.ChatRole `json:"role" validate:"required,oneof=MUTED BASIC MODER ADMIN"`
}

func inChat[P interface{ chatID() int }](p *P) permissions.Scope {
	return permissions.Chat((*p).chatID())
}

func echoChat[P interface{ chatID() int }](p *P) []string {
	return []string{Room((*p).chatID())}
}

func (p chatPayload) chatID() int          { return p.ChatID }
func (p sendMessagePayload) chatID() int   { return p.ChatID }
func (p editMessagePayload) chatID() int   { return p.ChatID }
func (p deleteMessagePayload) chatID() int { return p.ChatID }
func (p memberPayload) chatID() int        { return p.ChatID }
func (p invitePayload) chatID() int        { return p.ChatID }
func (p changeRolePayload) chatID() int    { return p.ChatID }

// Register installs the chat events on d and closes presence for chat rooms
// a connection still had open when it went away.
func Register(d *dispatch.Dispatcher, e *Engine) {
	dispatch.Register(d, dispatch.Event[newChatPayload]{
		Name: "new_chat",
		Code: http.StatusCreated,
		Handle: func(c *dispatch.Context, p *newChatPayload) (any, error) {
			return e.NewChat(c, p.Name)
		},
	})
	dispatch.Register(d, dispatch.Event[chatPayload]{
		Name:  "open_chat",
		Scope: inChat[chatPayload],
		Handle: func(c *dispatch.Context, p *chatPayload) (any, error) {
			return e.Open(c, p.ChatID)
		},
	})
	dispatch.Register(d, dispatch.Event[chatPayload]{
		Name:  "close_chat",
		Scope: inChat[chatPayload],
		Handle: func(c *dispatch.Context, p *chatPayload) (any, error) {
			return e.Close(c, p.ChatID)
		},
	})
	dispatch.Register(d, dispatch.Event[sendMessagePayload]{
		Name:    "send_message",
		Scope:   inChat[sendMessagePayload],
		Require: permissions.Require(models.PermSendMessages),
		Code:    http.StatusCreated,
		Echo:    echoChat[sendMessagePayload],
		Handle: func(c *dispatch.Context, p *sendMessagePayload) (any, error) {
			return e.SendMessage(c, p.ChatID, p.Content)
		},
	})
	dispatch.Register(d, dispatch.Event[editMessagePayload]{
		Name:  "edit_message",
		Scope: inChat[editMessagePayload],
		Echo:  echoChat[editMessagePayload],
		Handle: func(c *dispatch.Context, p *editMessagePayload) (any, error) {
			return e.EditMessage(c, p.ChatID, p.MessageID, p.Content)
		},
	})
	dispatch.Register(d, dispatch.Event[deleteMessagePayload]{
		Name:  "delete_message",
		Scope: inChat[deleteMessagePayload],
		Echo:  echoChat[deleteMessagePayload],
		Handle: func(c *dispatch.Context, p *deleteMessagePayload) (any, error) {
			return e.DeleteMessage(c, p.ChatID, p.MessageID)
		},
	})
	dispatch.Register(d, dispatch.Event[invitePayload]{
		Name:    "invite_user",
		Scope:   inChat[invitePayload],
		Require: permissions.Require(models.PermInviteUsers),
		Echo:    echoChat[invitePayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *invitePayload) (any, error) {
			return e.Invite(c, p.ChatID, p.UserID, p.Role)
		},
	})
	dispatch.Register(d, dispatch.Event[memberPayload]{
		Name:    "kick_user",
		Scope:   inChat[memberPayload],
		Require: permissions.Require(models.PermManageParticipants),
		Echo:    echoChat[memberPayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *memberPayload) (any, error) {
			return e.Kick(c, p.ChatID, p.UserID)
		},
	})
	dispatch.Register(d, dispatch.Event[changeRolePayload]{
		Name:    "change_role",
		Scope:   inChat[changeRolePayload],
		Require: permissions.Require(models.PermManageRoles),
		Echo:    echoChat[changeRolePayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *changeRolePayload) (any, error) {
			return e.ChangeRole(c, p.ChatID, p.UserID, p.Role)
		},
	})
	dispatch.Register(d, dispatch.Event[memberPayload]{
		Name:    "assign_owner",
		Scope:   inChat[memberPayload],
		Require: permissions.RequireOwner(),
		Echo:    echoChat[memberPayload],
		Audit:   true,
		Handle: func(c *dispatch.Context, p *memberPayload) (any, error) {
			return e.AssignOwner(c, p.ChatID, p.UserID)
		},
	})
	dispatch.Register(d, dispatch.Event[chatPayload]{
		Name:  "leave_chat",
		Scope: inChat[chatPayload],
		Echo:  echoChat[chatPayload],
		Handle: func(c *dispatch.Context, p *chatPayload) (any, error) {
			return e.Leave(c, p.ChatID)
		},
	})

	d.OnDisconnect(func(ctx context.Context, conn dispatch.Conn, rooms []string) {
		for _, room := range rooms {
			chatID, ok := RoomChatID(room)
			if !ok {
				continue
			}
			err := d.Run(ctx, conn, func(c *dispatch.Context) error {
				return e.CloseOnDisconnect(c, chatID)
			})
			if err != nil {
				log.Printf("chat: close presence chat=%d user=%d: %v", chatID, conn.UserID(), err)
			}
		}
	})
}
