package community

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
	"collab-service/internal/orderedlist"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
	"collab-service/internal/repositories/memstore"
	"collab-service/internal/ws"
)

type harness struct {
	t           *testing.T
	store       *memstore.Store
	hub         *ws.Hub
	d           *dispatch.Dispatcher
	lists       *orderedlist.Store
	svc         *Service
	communityID int
}

// newHarness seeds a community owned by user 1 where user 2 is a plain member.
func newHarness(t *testing.T, limits Limits) *harness {
	t.Helper()
	h := &harness{t: t, store: memstore.New(), hub: ws.NewHub(), lists: orderedlist.New(0)}
	h.svc = NewService(h.lists, limits)
	h.d = dispatch.New(h.store, permissions.NewGate(), h.hub)
	Register(h.d, h.svc)

	owner := h.connect("owner", 1)
	ack, result := h.send(owner, "new_community", map[string]string{"name": "physics"})
	require.Equal(t, http.StatusCreated, ack.Code)
	var community models.Community
	require.NoError(t, json.Unmarshal(result, &community))
	h.communityID = community.ID

	err := h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		p, err := tx.Communities().CreateParticipant(context.Background(), community.ID, 2)
		if err != nil {
			return err
		}
		_, err = h.lists.Insert(context.Background(), tx.List(models.ListCommunities), 2, p.ID, nil)
		return err
	})
	require.NoError(t, err)
	return h
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
	h.d.Dispatch(context.Background(), conn, dispatch.Frame{Event: event, Ack: event, Data: raw})
	body, result, ok := conn.LastAck()
	require.True(h.t, ok, "no ack for %s", event)
	return body, result
}

func (h *harness) order(kind models.ListKind, scope int) []int {
	h.t.Helper()
	var ids []int
	err := h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		nodes, err := h.lists.Reconstruct(context.Background(), tx.List(kind), scope)
		ids = orderedlist.IDs(nodes)
		return err
	})
	require.NoError(h.t, err)
	return ids
}

func (h *harness) newCategory(conn *mocks.Conn, name string) int {
	h.t.Helper()
	ack, result := h.send(conn, "new_category", map[string]any{"community_id": h.communityID, "name": name})
	require.Equal(h.t, http.StatusCreated, ack.Code, ack.Message)
	var cat models.Category
	require.NoError(h.t, json.Unmarshal(result, &cat))
	return cat.ID
}

func TestMoveCategoryReordersList(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	k1 := h.newCategory(owner, "K1")
	k2 := h.newCategory(owner, "K2")
	k3 := h.newCategory(owner, "K3")
	require.Equal(t, []int{k1, k2, k3}, h.order(models.ListCategories, h.communityID))

	ack, _ := h.send(owner, "move_category", map[string]any{"community_id": h.communityID, "category_id": k3, "before_id": k1})
	require.Equal(t, http.StatusOK, ack.Code)
	ack, _ = h.send(owner, "move_category", map[string]any{"community_id": h.communityID, "category_id": k1})
	require.Equal(t, http.StatusOK, ack.Code)
	ack, _ = h.send(owner, "move_category", map[string]any{"community_id": h.communityID, "category_id": k2, "before_id": k1})
	require.Equal(t, http.StatusOK, ack.Code)

	assert.Equal(t, []int{k3, k2, k1}, h.order(models.ListCategories, h.communityID))
}

func TestCategoryChangesBroadcastToCommunityRoom(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	member := h.connect("m", 2)
	ack, _ := h.send(member, "open_community", map[string]int{"community_id": h.communityID})
	require.Equal(t, http.StatusOK, ack.Code)

	h.newCategory(owner, "General")

	frame, ok := member.Last("new_category")
	require.True(t, ok)
	var cat models.Category
	require.NoError(t, json.Unmarshal(frame.Data, &cat))
	assert.Equal(t, "General", cat.Name)
}

func TestNewCategoryBeforeExisting(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	first := h.newCategory(owner, "A")

	ack, result := h.send(owner, "new_category", map[string]any{"community_id": h.communityID, "name": "B", "before_id": first})
	require.Equal(t, http.StatusCreated, ack.Code)
	var cat models.Category
	require.NoError(t, json.Unmarshal(result, &cat))
	assert.Nil(t, cat.PrevID)
	assert.Equal(t, []int{cat.ID, first}, h.order(models.ListCategories, h.communityID))
}

func TestCategoryLimit(t *testing.T) {
	limits := DefaultLimits
	limits.CategoriesPerCommunity = 2
	h := newHarness(t, limits)
	owner := h.connect("o2", 1)
	h.newCategory(owner, "A")
	h.newCategory(owner, "B")

	ack, _ := h.send(owner, "new_category", map[string]any{"community_id": h.communityID, "name": "C"})
	assert.Equal(t, http.StatusConflict, ack.Code)
	assert.Len(t, h.order(models.ListCategories, h.communityID), 2)
}

func TestMemberWithoutPermissionCannotCreateCategory(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	member := h.connect("m", 2)

	ack, _ := h.send(member, "new_category", map[string]any{"community_id": h.communityID, "name": "X"})
	assert.Equal(t, http.StatusForbidden, ack.Code)
	assert.Equal(t, permissions.MsgInsufficientPermission, ack.Message)
}

func TestChannelsLiveInTheirCategory(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	cat := h.newCategory(owner, "Text")
	other := h.newCategory(owner, "Voice")

	var ids []int
	for _, name := range []string{"a", "b", "c"} {
		ack, result := h.send(owner, "new_channel", map[string]any{"community_id": h.communityID, "category_id": cat, "name": name, "kind": "text"})
		require.Equal(t, http.StatusCreated, ack.Code, ack.Message)
		var ch models.Channel
		require.NoError(t, json.Unmarshal(result, &ch))
		ids = append(ids, ch.ID)
	}

	ack, _ := h.send(owner, "move_channel", map[string]any{"community_id": h.communityID, "category_id": cat, "channel_id": ids[2], "before_id": ids[0]})
	require.Equal(t, http.StatusOK, ack.Code)
	assert.Equal(t, []int{ids[2], ids[0], ids[1]}, h.order(models.ListChannels, cat))

	ack, _ = h.send(owner, "move_channel", map[string]any{"community_id": h.communityID, "category_id": other, "channel_id": ids[0]})
	assert.Equal(t, http.StatusConflict, ack.Code, "channel of another category")

	ack, _ = h.send(owner, "delete_channel", map[string]any{"community_id": h.communityID, "category_id": cat, "channel_id": ids[0]})
	require.Equal(t, http.StatusOK, ack.Code)
	assert.Equal(t, []int{ids[2], ids[1]}, h.order(models.ListChannels, cat))

	ack, _ = h.send(owner, "delete_category", map[string]any{"community_id": h.communityID, "category_id": cat})
	require.Equal(t, http.StatusOK, ack.Code)
	assert.Equal(t, []int{other}, h.order(models.ListCategories, h.communityID))
	assert.Empty(t, h.order(models.ListChannels, cat))
}

func TestNonParticipantNewRoleIsRejected(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	ack, _ := h.send(owner, "open_roles", map[string]int{"community_id": h.communityID})
	require.Equal(t, http.StatusOK, ack.Code)
	owner.Reset()

	stranger := h.connect("s", 9)
	ack, _ = h.send(stranger, "new_role", map[string]any{"community_id": h.communityID, "name": "x", "permissions": []string{}})
	assert.Equal(t, http.StatusForbidden, ack.Code)
	assert.Equal(t, permissions.MsgParticipantNotFound, ack.Message)

	assert.Empty(t, owner.Frames())
	_ = h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		n, err := tx.Communities().CountRoles(context.Background(), h.communityID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	})
}

func TestRolesGrantPermissions(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	member := h.connect("m", 2)
	h.send(owner, "open_roles", map[string]int{"community_id": h.communityID})

	ack, result := h.send(owner, "new_role", map[string]any{
		"community_id": h.communityID,
		"name":         "builders",
		"color":        "#ff8800",
		"permissions":  []string{"MANAGE_CHANNELS"},
	})
	require.Equal(t, http.StatusCreated, ack.Code, ack.Message)
	var role models.Role
	require.NoError(t, json.Unmarshal(result, &role))

	ack, _ = h.send(owner, "assign_role", map[string]int{"community_id": h.communityID, "user_id": 2, "role_id": role.ID})
	require.Equal(t, http.StatusOK, ack.Code)

	h.newCategory(member, "Made by member")

	ack, _ = h.send(owner, "delete_role", map[string]int{"community_id": h.communityID, "role_id": role.ID})
	require.Equal(t, http.StatusOK, ack.Code)
	ack, _ = h.send(member, "new_category", map[string]any{"community_id": h.communityID, "name": "again"})
	assert.Equal(t, http.StatusForbidden, ack.Code)
}

func TestRoleLimitHoldsUnderConcurrentCreates(t *testing.T) {
	limits := DefaultLimits
	limits.RolesPerCommunity = 2
	h := newHarness(t, limits)

	conns := make([]*mocks.Conn, 6)
	for i := range conns {
		conns[i] = h.connect(fmt.Sprintf("o%d", i), 1)
	}
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *mocks.Conn) {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{"community_id": h.communityID, "name": fmt.Sprintf("r%d", i), "permissions": []string{}})
			h.d.Dispatch(context.Background(), conn, dispatch.Frame{Event: "new_role", Ack: "r", Data: raw})
		}(i, conn)
	}
	wg.Wait()

	created, rejected := 0, 0
	for _, conn := range conns {
		ack, _, ok := conn.LastAck()
		require.True(t, ok)
		switch ack.Code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			rejected++
		}
	}
	assert.Equal(t, 2, created)
	assert.Equal(t, 4, rejected)

	var n int
	err := h.store.InTx(context.Background(), func(tx repositories.Tx) error {
		var err error
		n, err = tx.Communities().CountRoles(context.Background(), h.communityID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewRoleRejectsUnknownPermission(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)

	ack, _ := h.send(owner, "new_role", map[string]any{"community_id": h.communityID, "name": "x", "permissions": []string{"FLY"}})
	assert.Equal(t, http.StatusUnprocessableEntity, ack.Code)
}

func TestInvitationLifecycle(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)

	ack, result := h.send(owner, "new_invitation", map[string]int{"community_id": h.communityID, "usage_limit": 1})
	require.Equal(t, http.StatusCreated, ack.Code)
	var inv models.Invitation
	require.NoError(t, json.Unmarshal(result, &inv))
	require.NotEmpty(t, inv.Code)

	guest := h.connect("g", 3)
	ack, _ = h.send(guest, "join_community", map[string]string{"code": inv.Code})
	require.Equal(t, http.StatusOK, ack.Code, ack.Message)

	late := h.connect("l", 4)
	ack, _ = h.send(late, "join_community", map[string]string{"code": inv.Code})
	assert.Equal(t, http.StatusNotFound, ack.Code, "single-use invitation is gone")

	ack, _ = h.send(guest, "join_community", map[string]string{"code": "nope"})
	assert.Equal(t, http.StatusNotFound, ack.Code)
}

func TestExpiredInvitation(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	_, result := h.send(owner, "new_invitation", map[string]int{"community_id": h.communityID, "expiry_seconds": 60})
	var inv models.Invitation
	require.NoError(t, json.Unmarshal(result, &inv))

	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	guest := h.connect("g", 3)
	ack, _ := h.send(guest, "join_community", map[string]string{"code": inv.Code})
	assert.Equal(t, http.StatusConflict, ack.Code)
}

func TestMoveCommunityAndLeave(t *testing.T) {
	h := newHarness(t, DefaultLimits)
	owner := h.connect("o2", 1)
	member := h.connect("m", 2)

	_, result := h.send(member, "new_community", map[string]string{"name": "chemistry"})
	var second models.Community
	require.NoError(t, json.Unmarshal(result, &second))

	ack, _ := h.send(member, "move_community", map[string]any{"community_id": second.ID, "before_id": h.communityID})
	require.Equal(t, http.StatusOK, ack.Code)
	_, ok := member.Last("move_community")
	assert.True(t, ok)
	assert.Len(t, h.order(models.ListCommunities, 2), 2)

	ack, _ = h.send(member, "leave_community", map[string]int{"community_id": h.communityID})
	require.Equal(t, http.StatusOK, ack.Code)
	assert.Len(t, h.order(models.ListCommunities, 2), 1)

	ack, _ = h.send(owner, "leave_community", map[string]int{"community_id": h.communityID})
	assert.Equal(t, http.StatusConflict, ack.Code)
}
