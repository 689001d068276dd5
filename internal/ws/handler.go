package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"collab-service/internal/dispatch"
	"collab-service/internal/identity"
	"collab-service/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests and serves their event frames.
type Handler struct {
	hub        *Hub
	dispatcher *dispatch.Dispatcher
	resolver   identity.Resolver
	sendBuffer int
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, dispatcher *dispatch.Dispatcher, resolver identity.Resolver, sendBuffer int) *Handler {
	return &Handler{hub: hub, dispatcher: dispatcher, resolver: resolver, sendBuffer: sendBuffer}
}

// Handle resolves the caller, upgrades the connection and runs its pumps.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("collab-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := identity.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info, h.sendBuffer)
	h.hub.Register(client, info)
	observability.IncWSActive()
	publishWSEvent(ctx, "ws_connect", info, "")

	go client.writePump()
	go h.serve(client, info)
}

func (h *Handler) serve(client *Client, info ConnInfo) {
	ctx := context.Background()
	err := h.read(ctx, client)

	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishWSEvent(ctx, "ws_error", info, reason)
		}
	}

	rooms := h.hub.Unregister(client)
	client.close()
	h.dispatcher.Disconnect(ctx, client, rooms)

	observability.DecWSActive()
	publishWSEvent(ctx, "ws_disconnect", info, reason)
}

// read runs the read pump and turns a handler panic into a connection error
// so the process and the other connections keep running.
func (h *Handler) read(ctx context.Context, client *Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ws: conn=%s user=%d panic: %v\n%s", client.ID(), client.UserID(), r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return client.readPump(ctx, h.dispatcher)
}
