package dispatch

import (
	"context"

	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
)

type effectKind int

const (
	effectBroadcast effectKind = iota
	effectNotify
	effectJoin
	effectLeave
	effectLeaveUser
	effectCloseRoom
)

type effect struct {
	kind          effectKind
	room          string
	userID        int
	event         string
	data          any
	includeSender bool
}

// Context is handed to event handlers. Transport effects queued on it are
// applied only after the transaction commits and the ack has been sent.
type Context struct {
	Ctx    context.Context
	Tx     repositories.Tx
	Access permissions.Access
	Conn   Conn

	rooms   Rooms
	effects []effect
}

func (c *Context) UserID() int {
	return c.Conn.UserID()
}

// Joined reports whether the actor's connection is already in room. Rooms
// joined by this event's queued effects are not counted yet.
func (c *Context) Joined(room string) bool {
	return c.rooms != nil && c.rooms.Joined(room, c.Conn)
}

// Emit broadcasts event to room, skipping the sender's connection.
func (c *Context) Emit(room, event string, data any) {
	c.effects = append(c.effects, effect{kind: effectBroadcast, room: room, event: event, data: data})
}

// EmitAll broadcasts event to room including the sender's connection.
func (c *Context) EmitAll(room, event string, data any) {
	c.effects = append(c.effects, effect{kind: effectBroadcast, room: room, event: event, data: data, includeSender: true})
}

// Notify sends event to every connection of userID.
func (c *Context) Notify(userID int, event string, data any) {
	c.effects = append(c.effects, effect{kind: effectNotify, userID: userID, event: event, data: data})
}

func (c *Context) Join(room string) {
	c.effects = append(c.effects, effect{kind: effectJoin, room: room})
}

func (c *Context) Leave(room string) {
	c.effects = append(c.effects, effect{kind: effectLeave, room: room})
}

// LeaveUser removes all connections of userID from room.
func (c *Context) LeaveUser(room string, userID int) {
	c.effects = append(c.effects, effect{kind: effectLeaveUser, room: room, userID: userID})
}

func (c *Context) CloseRoom(room string) {
	c.effects = append(c.effects, effect{kind: effectCloseRoom, room: room})
}
