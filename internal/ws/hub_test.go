package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	user   int
	fail   bool
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string  { return c.id }
func (c *fakeConn) UserID() int { return c.user }
func (c *fakeConn) Send(payload []byte) error {
	if c.fail {
		return errors.New("closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, payload)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type captureRelay struct {
	msgs []RelayMessage
}

func (r *captureRelay) Publish(ctx context.Context, msg RelayMessage) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestHubJoinBroadcastExcept(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{id: "a", user: 1}
	b := &fakeConn{id: "b", user: 2}
	hub.Register(a, ConnInfo{ConnID: "a", UserID: 1})
	hub.Register(b, ConnInfo{ConnID: "b", UserID: 2})

	hub.Join("chat-1", a)
	hub.Join("chat-1", b)
	require.Equal(t, 2, hub.RoomSize("chat-1"))

	n := hub.Broadcast("chat-1", []byte(`{}`), a)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestHubUnregisterReturnsRooms(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{id: "a", user: 1}
	hub.Register(a, ConnInfo{ConnID: "a", UserID: 1})
	hub.Join("chat-1", a)
	hub.Join("community-3", a)

	rooms := hub.Unregister(a)
	assert.ElementsMatch(t, []string{"chat-1", "community-3"}, rooms)
	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	assert.Equal(t, 0, hub.NotifyUser(1, []byte(`{}`)))
}

func TestHubLeaveUserAndCloseRoom(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{id: "a", user: 1}
	a2 := &fakeConn{id: "a2", user: 1}
	b := &fakeConn{id: "b", user: 2}
	for _, c := range []*fakeConn{a, a2, b} {
		hub.Register(c, ConnInfo{ConnID: c.id, UserID: c.user})
		hub.Join("roles-5", c)
	}

	hub.LeaveUser("roles-5", 1)
	assert.Equal(t, 1, hub.RoomSize("roles-5"))
	assert.Empty(t, hub.RoomsOf(a))

	hub.CloseRoom("roles-5")
	assert.Equal(t, 0, hub.RoomSize("roles-5"))
	assert.Empty(t, hub.RoomsOf(b))
}

func TestHubNotifyUserReachesEveryConnection(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{id: "a", user: 7}
	a2 := &fakeConn{id: "a2", user: 7}
	broken := &fakeConn{id: "x", user: 7, fail: true}
	for _, c := range []*fakeConn{a, a2, broken} {
		hub.Register(c, ConnInfo{ConnID: c.id, UserID: c.user})
	}

	assert.Equal(t, 2, hub.NotifyUser(7, []byte(`{}`)))
}

func TestHubRelayForwardsAndSkipsOwnOrigin(t *testing.T) {
	hub := NewHub()
	relay := &captureRelay{}
	hub.SetRelay(relay)
	a := &fakeConn{id: "a", user: 1}
	hub.Register(a, ConnInfo{ConnID: "a", UserID: 1})
	hub.Join("chat-1", a)

	hub.Broadcast("chat-1", []byte(`{"event":"x"}`), nil)
	require.Len(t, relay.msgs, 1)
	assert.Equal(t, hub.NodeID(), relay.msgs[0].Origin)
	assert.Equal(t, "chat-1", relay.msgs[0].Room)

	assert.Equal(t, 0, hub.Deliver(relay.msgs[0]))

	remote := RelayMessage{Origin: "other-node", Room: "chat-1", Payload: []byte(`{}`)}
	assert.Equal(t, 1, hub.Deliver(remote))
	remote.Except = "a"
	assert.Equal(t, 0, hub.Deliver(remote))
	assert.Equal(t, 1, hub.Deliver(RelayMessage{Origin: "other-node", UserID: 1, Payload: []byte(`{}`)}))
}

func TestHubRelaysMembershipChanges(t *testing.T) {
	hub := NewHub()
	relay := &captureRelay{}
	hub.SetRelay(relay)

	hub.LeaveUser("chat-1", 2)
	hub.CloseRoom("chat-9")
	require.Len(t, relay.msgs, 2)
	assert.Equal(t, RelayMessage{Origin: hub.NodeID(), Kind: RelayLeaveUser, Room: "chat-1", UserID: 2}, relay.msgs[0])
	assert.Equal(t, RelayMessage{Origin: hub.NodeID(), Kind: RelayCloseRoom, Room: "chat-9"}, relay.msgs[1])

	peer := NewHub()
	b := &fakeConn{id: "b", user: 2}
	c := &fakeConn{id: "c", user: 3}
	for _, conn := range []*fakeConn{b, c} {
		peer.Register(conn, ConnInfo{ConnID: conn.id, UserID: conn.user})
		peer.Join("chat-1", conn)
		peer.Join("chat-9", conn)
	}

	assert.Equal(t, 0, peer.Deliver(relay.msgs[0]))
	assert.False(t, peer.Joined("chat-1", b))
	assert.True(t, peer.Joined("chat-1", c))
	assert.Equal(t, 0, b.count())

	peer.Deliver(relay.msgs[1])
	assert.Equal(t, 0, peer.RoomSize("chat-9"))
	assert.ElementsMatch(t, []string{"chat-1"}, peer.RoomsOf(c))
}
