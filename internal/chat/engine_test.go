package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-service/internal/dispatch"
	"collab-service/internal/mocks"
	"collab-service/internal/models"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
	"collab-service/internal/repositories/memstore"
	"collab-service/internal/ws"
)

type harness struct {
	t      *testing.T
	store  *memstore.Store
	hub    *ws.Hub
	d      *dispatch.Dispatcher
	chatID int
	clock  time.Time
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, store: memstore.New(), hub: ws.NewHub(), clock: base}
	engine := NewEngine()
	engine.now = func() time.Time { return h.clock }
	h.d = dispatch.New(h.store, permissions.NewGate(), h.hub)
	Register(h.d, engine)
	return h
}

// seed creates a chat with the given members and their last activity offsets.
func (h *harness) seed(members map[int]models.ChatRole, activity map[int]time.Duration) {
	h.t.Helper()
	err := h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		chat, err := tx.Chats().CreateChat(context.Background(), "lab")
		if err != nil {
			return err
		}
		h.chatID = chat.ID
		for user, role := range members {
			p := models.ChatParticipant{ChatID: chat.ID, UserID: user, Role: role, Activity: base.Add(activity[user])}
			if err := tx.Chats().AddParticipant(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(h.t, err)
}

func (h *harness) connect(id string, userID int) *mocks.Conn {
	conn := mocks.NewConn(id, userID)
	h.hub.Register(conn, ws.ConnInfo{ConnID: id, UserID: userID})
	return conn
}

func (h *harness) send(conn *mocks.Conn, event string, data any) (dispatch.AckBody, json.RawMessage) {
	h.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	h.d.Dispatch(context.Background(), conn, dispatch.Frame{Event: event, Ack: "1", Data: raw})
	body, result, ok := conn.LastAck()
	require.True(h.t, ok, "no ack for %s", event)
	return body, result
}

func (h *harness) participant(userID int) (models.ChatParticipant, bool) {
	var p models.ChatParticipant
	var found bool
	_ = h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		var err error
		p, err = tx.Chats().LockParticipant(context.Background(), h.chatID, userID)
		found = err == nil
		return nil
	})
	return p, found
}

func (h *harness) chatExists() bool {
	exists := false
	_ = h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		_, err := tx.Chats().GetChat(context.Background(), h.chatID)
		exists = err == nil
		return nil
	})
	return exists
}

func TestSendMessageNotifiesOfflineParticipants(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)
	alice := h.connect("alice", 1)
	bob := h.connect("bob", 2)

	ack, _ := h.send(alice, "open_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)

	h.clock = base.Add(time.Minute)
	ack, result := h.send(alice, "send_message", map[string]any{"chat_id": h.chatID, "content": "hi"})
	require.Equal(t, http.StatusCreated, ack.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(result, &msg))
	assert.Equal(t, "hi", msg.Content)

	frame, ok := bob.Last(EventUnreadUpdated)
	require.True(t, ok)
	var notice models.UnreadNotice
	require.NoError(t, json.Unmarshal(frame.Data, &notice))
	assert.Equal(t, models.UnreadNotice{ChatID: h.chatID, Unread: 1}, notice)

	sender, _ := h.participant(1)
	assert.True(t, sender.Activity.Equal(base.Add(time.Minute)))

	_, ok = alice.Last(EventUnreadUpdated)
	assert.False(t, ok, "online sender must not be notified")

	ack, _ = h.send(bob, "open_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)
	_, ok = bob.Last(EventUnreadCleared)
	assert.True(t, ok)
	reader, _ := h.participant(2)
	assert.Equal(t, 0, reader.Unread)
	assert.Equal(t, 1, reader.Online)
}

func TestSendMessageBroadcastsToOpenChat(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)
	alice := h.connect("alice", 1)
	bob := h.connect("bob", 2)
	h.send(alice, "open_chat", map[string]int{"chat_id": h.chatID})
	h.send(bob, "open_chat", map[string]int{"chat_id": h.chatID})
	alice.Reset()

	h.send(bob, "send_message", map[string]any{"chat_id": h.chatID, "content": "hello"})

	assert.Equal(t, []string{"send_message"}, alice.Events())
	_, ok := bob.Last("send_message")
	assert.False(t, ok, "sender only gets the ack")
}

func TestMutedCannotSend(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 3: models.ChatRoleMuted}, nil)
	muted := h.connect("m", 3)

	ack, _ := h.send(muted, "send_message", map[string]any{"chat_id": h.chatID, "content": "x"})
	assert.Equal(t, http.StatusForbidden, ack.Code)
	assert.Equal(t, permissions.MsgInsufficientPermission, ack.Message)
}

func TestCloseNeverGoesNegative(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner}, nil)
	conn := h.connect("a", 1)

	ack, _ := h.send(conn, "close_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)
	p, _ := h.participant(1)
	assert.Equal(t, 0, p.Online)
}

func TestConcurrentOpensCountBothSessions(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)
	phone := h.connect("phone", 2)
	laptop := h.connect("laptop", 2)

	var wg sync.WaitGroup
	for _, conn := range []*mocks.Conn{phone, laptop} {
		wg.Add(1)
		go func(conn *mocks.Conn) {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]int{"chat_id": h.chatID})
			h.d.Dispatch(context.Background(), conn, dispatch.Frame{Event: "open_chat", Data: raw})
		}(conn)
	}
	wg.Wait()

	p, _ := h.participant(2)
	assert.Equal(t, 2, p.Online)
	assert.Equal(t, 2, h.hub.RoomSize(Room(h.chatID)))
}

func TestDisconnectClosesPresence(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner}, nil)
	conn := h.connect("a", 1)
	h.send(conn, "open_chat", map[string]int{"chat_id": h.chatID})

	rooms := h.hub.Unregister(conn)
	h.d.Disconnect(context.Background(), conn, rooms)

	p, _ := h.participant(1)
	assert.Equal(t, 0, p.Online)
}

func TestRepeatedOpenCountsConnectionOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)
	alice := h.connect("alice", 1)
	bob := h.connect("bob", 2)

	h.send(alice, "open_chat", map[string]int{"chat_id": h.chatID})
	ack, _ := h.send(alice, "open_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)
	p, _ := h.participant(1)
	require.Equal(t, 1, p.Online)

	rooms := h.hub.Unregister(alice)
	h.d.Disconnect(context.Background(), alice, rooms)
	p, _ = h.participant(1)
	require.Equal(t, 0, p.Online)

	h.send(bob, "open_chat", map[string]int{"chat_id": h.chatID})
	ack, _ = h.send(bob, "send_message", map[string]any{"chat_id": h.chatID, "content": "still there?"})
	require.Equal(t, http.StatusCreated, ack.Code)
	p, _ = h.participant(1)
	assert.Equal(t, 1, p.Unread)
}

func TestCloseWithoutOpenKeepsOtherSessions(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner}, nil)
	phone := h.connect("phone", 1)
	laptop := h.connect("laptop", 1)

	h.send(phone, "open_chat", map[string]int{"chat_id": h.chatID})
	h.send(laptop, "close_chat", map[string]int{"chat_id": h.chatID})
	p, _ := h.participant(1)
	assert.Equal(t, 1, p.Online)

	h.send(phone, "close_chat", map[string]int{"chat_id": h.chatID})
	h.send(phone, "close_chat", map[string]int{"chat_id": h.chatID})
	p, _ = h.participant(1)
	assert.Equal(t, 0, p.Online)
}

// loopback hands every relayed message straight to each hub.
type loopback struct {
	hubs []*ws.Hub
}

func (l *loopback) Publish(ctx context.Context, msg ws.RelayMessage) error {
	for _, hub := range l.hubs {
		hub.Deliver(msg)
	}
	return nil
}

func TestKickReachesConnectionsOnOtherNodes(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)

	remoteHub := ws.NewHub()
	remote := dispatch.New(h.store, permissions.NewGate(), remoteHub)
	Register(remote, NewEngine())
	relay := &loopback{hubs: []*ws.Hub{h.hub, remoteHub}}
	h.hub.SetRelay(relay)
	remoteHub.SetRelay(relay)

	alice := h.connect("alice", 1)
	bob := mocks.NewConn("bob", 2)
	remoteHub.Register(bob, ws.ConnInfo{ConnID: "bob", UserID: 2})

	h.send(alice, "open_chat", map[string]int{"chat_id": h.chatID})
	remote.Dispatch(context.Background(), bob, dispatch.Frame{Event: "open_chat", Data: json.RawMessage(fmt.Sprintf(`{"chat_id":%d}`, h.chatID))})
	require.Equal(t, 1, remoteHub.RoomSize(Room(h.chatID)))

	h.send(alice, "send_message", map[string]any{"chat_id": h.chatID, "content": "hello"})
	_, ok := bob.Last("send_message")
	require.True(t, ok, "remote member should receive chat messages")

	ack, _ := h.send(alice, "kick_user", map[string]int{"chat_id": h.chatID, "user_id": 2})
	require.Equal(t, http.StatusOK, ack.Code)
	assert.Equal(t, 0, remoteHub.RoomSize(Room(h.chatID)))
	_, ok = bob.Last(EventKicked)
	assert.True(t, ok)

	bob.Reset()
	h.send(alice, "send_message", map[string]any{"chat_id": h.chatID, "content": "secret"})
	assert.Empty(t, bob.Events())
}

func TestOwnerLeavePromotesHighestRank(t *testing.T) {
	h := newHarness(t)
	h.seed(
		map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic, 3: models.ChatRoleAdmin},
		map[int]time.Duration{2: time.Hour, 3: time.Minute},
	)
	owner := h.connect("o", 1)
	admin := h.connect("a", 3)
	h.send(admin, "open_chat", map[string]int{"chat_id": h.chatID})

	ack, result := h.send(owner, "leave_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)
	var out Departure
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, 3, out.NewOwner)
	assert.False(t, out.Deleted)

	p, _ := h.participant(3)
	assert.Equal(t, models.ChatRoleOwner, p.Role)
	_, ok := admin.Last(EventOwnerChanged)
	assert.True(t, ok)
	_, found := h.participant(1)
	assert.False(t, found)
}

func TestOwnerLeaveTieBreaksOnActivityThenUnread(t *testing.T) {
	h := newHarness(t)
	h.seed(
		map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleModer, 3: models.ChatRoleModer},
		map[int]time.Duration{2: time.Minute, 3: time.Hour},
	)
	owner := h.connect("o", 1)

	_, result := h.send(owner, "leave_chat", map[string]int{"chat_id": h.chatID})
	var out Departure
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, 3, out.NewOwner)
}

func TestLastLeaveDeletesChat(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner}, nil)
	conn := h.connect("a", 1)
	h.send(conn, "open_chat", map[string]int{"chat_id": h.chatID})

	ack, result := h.send(conn, "leave_chat", map[string]int{"chat_id": h.chatID})
	require.Equal(t, http.StatusOK, ack.Code)
	var out Departure
	require.NoError(t, json.Unmarshal(result, &out))
	assert.True(t, out.Deleted)
	assert.False(t, h.chatExists())
	_, ok := conn.Last(EventChatDeleted)
	assert.True(t, ok)
	assert.Equal(t, 0, h.hub.RoomSize(Room(h.chatID)))
}

func TestAssignOwnerKeepsSingleOwner(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic}, nil)
	owner := h.connect("o", 1)

	ack, _ := h.send(owner, "assign_owner", map[string]int{"chat_id": h.chatID, "user_id": 2})
	require.Equal(t, http.StatusOK, ack.Code)

	prev, _ := h.participant(1)
	next, _ := h.participant(2)
	assert.Equal(t, models.ChatRoleAdmin, prev.Role)
	assert.Equal(t, models.ChatRoleOwner, next.Role)

	ack, _ = h.send(owner, "assign_owner", map[string]int{"chat_id": h.chatID, "user_id": 2})
	assert.Equal(t, http.StatusForbidden, ack.Code)
}

func TestRankEnforcement(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{
		1: models.ChatRoleOwner,
		2: models.ChatRoleAdmin,
		3: models.ChatRoleModer,
		4: models.ChatRoleBasic,
	}, nil)
	admin := h.connect("admin", 2)
	moder := h.connect("moder", 3)

	cases := []struct {
		name  string
		conn  *mocks.Conn
		event string
		data  map[string]any
		code  int
	}{
		{"moder kicks admin", moder, "kick_user", map[string]any{"chat_id": h.chatID, "user_id": 2}, http.StatusForbidden},
		{"moder kicks self", moder, "kick_user", map[string]any{"chat_id": h.chatID, "user_id": 3}, http.StatusForbidden},
		{"moder changes role", moder, "change_role", map[string]any{"chat_id": h.chatID, "user_id": 4, "role": "MUTED"}, http.StatusForbidden},
		{"admin grants admin", admin, "change_role", map[string]any{"chat_id": h.chatID, "user_id": 4, "role": "ADMIN"}, http.StatusForbidden},
		{"admin grants owner", admin, "change_role", map[string]any{"chat_id": h.chatID, "user_id": 4, "role": "OWNER"}, http.StatusUnprocessableEntity},
		{"admin demotes owner", admin, "change_role", map[string]any{"chat_id": h.chatID, "user_id": 1, "role": "BASIC"}, http.StatusForbidden},
		{"admin targets stranger", admin, "kick_user", map[string]any{"chat_id": h.chatID, "user_id": 99}, http.StatusNotFound},
		{"admin promotes basic to moder", admin, "change_role", map[string]any{"chat_id": h.chatID, "user_id": 4, "role": "MODER"}, http.StatusOK},
		{"admin kicks moder", admin, "kick_user", map[string]any{"chat_id": h.chatID, "user_id": 3}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack, _ := h.send(tc.conn, tc.event, tc.data)
			assert.Equal(t, tc.code, ack.Code, ack.Message)
		})
	}

	p, _ := h.participant(4)
	assert.Equal(t, models.ChatRoleModer, p.Role)
	_, found := h.participant(3)
	assert.False(t, found)
}

func TestInviteUser(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleAdmin}, nil)
	admin := h.connect("admin", 2)
	guest := h.connect("guest", 5)

	ack, _ := h.send(admin, "invite_user", map[string]any{"chat_id": h.chatID, "user_id": 5})
	require.Equal(t, http.StatusOK, ack.Code)
	p, found := h.participant(5)
	require.True(t, found)
	assert.Equal(t, models.ChatRoleBasic, p.Role)
	_, ok := guest.Last(EventChatInvited)
	assert.True(t, ok)

	ack, _ = h.send(admin, "invite_user", map[string]any{"chat_id": h.chatID, "user_id": 5})
	assert.Equal(t, http.StatusConflict, ack.Code)

	ack, _ = h.send(admin, "invite_user", map[string]any{"chat_id": h.chatID, "user_id": 6, "role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, ack.Code)
}

func TestEditAndDeleteMessage(t *testing.T) {
	h := newHarness(t)
	h.seed(map[int]models.ChatRole{1: models.ChatRoleOwner, 2: models.ChatRoleBasic, 3: models.ChatRoleModer}, nil)
	author := h.connect("author", 2)
	other := h.connect("other", 1)
	moder := h.connect("moder", 3)

	_, result := h.send(author, "send_message", map[string]any{"chat_id": h.chatID, "content": "draft"})
	var msg models.Message
	require.NoError(t, json.Unmarshal(result, &msg))

	ack, _ := h.send(other, "edit_message", map[string]any{"chat_id": h.chatID, "message_id": msg.ID, "content": "hijack"})
	assert.Equal(t, http.StatusForbidden, ack.Code)

	ack, result = h.send(author, "edit_message", map[string]any{"chat_id": h.chatID, "message_id": msg.ID, "content": "final"})
	require.Equal(t, http.StatusOK, ack.Code)
	var edited models.Message
	require.NoError(t, json.Unmarshal(result, &edited))
	assert.Equal(t, "final", edited.Content)
	assert.NotNil(t, edited.Updated)

	ack, _ = h.send(moder, "delete_message", map[string]any{"chat_id": h.chatID, "message_id": msg.ID})
	assert.Equal(t, http.StatusOK, ack.Code)

	ack, _ = h.send(author, "delete_message", map[string]any{"chat_id": h.chatID, "message_id": msg.ID})
	assert.Equal(t, http.StatusNotFound, ack.Code)
}

func TestNewChatMakesActorOwner(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("a", 8)

	ack, result := h.send(conn, "new_chat", map[string]string{"name": "plans"})
	require.Equal(t, http.StatusCreated, ack.Code)
	var chat models.Chat
	require.NoError(t, json.Unmarshal(result, &chat))
	h.chatID = chat.ID

	p, found := h.participant(8)
	require.True(t, found)
	assert.Equal(t, models.ChatRoleOwner, p.Role)
}

func TestRoomChatID(t *testing.T) {
	id, ok := RoomChatID(Room(42))
	assert.True(t, ok)
	assert.Equal(t, 42, id)

	_, ok = RoomChatID("community-42")
	assert.False(t, ok)
}
