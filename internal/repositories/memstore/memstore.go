// Package memstore is an in-memory repositories.Store. Transactions run one at
// a time against a copy of the data which replaces the committed state only
// when the unit of work succeeds.
package memstore

import (
	"context"
	"sync"

	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

type chatKey struct {
	chatID int
	userID int
}

type state struct {
	seq              map[string]int
	nodes            map[models.ListKind]map[int]models.ListNode
	communities      map[int]models.Community
	participants     map[int]models.Participant
	roles            map[int]models.Role
	assignments      map[int]map[int]struct{}
	categories       map[int]models.Category
	channels         map[int]models.Channel
	invitations      map[int]models.Invitation
	chats            map[int]models.Chat
	chatParticipants map[chatKey]models.ChatParticipant
	messages         map[int]models.Message
}

func newState() *state {
	return &state{
		seq: map[string]int{},
		nodes: map[models.ListKind]map[int]models.ListNode{
			models.ListCommunities: {},
			models.ListCategories:  {},
			models.ListChannels:    {},
		},
		communities:      map[int]models.Community{},
		participants:     map[int]models.Participant{},
		roles:            map[int]models.Role{},
		assignments:      map[int]map[int]struct{}{},
		categories:       map[int]models.Category{},
		channels:         map[int]models.Channel{},
		invitations:      map[int]models.Invitation{},
		chats:            map[int]models.Chat{},
		chatParticipants: map[chatKey]models.ChatParticipant{},
		messages:         map[int]models.Message{},
	}
}

// Stored values never share mutable memory with callers: pointer fields are
// replaced, not written through, and role permission slices are copied.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for kind, nodes := range s.nodes {
		for id, n := range nodes {
			c.nodes[kind][id] = n
		}
	}
	copyMap(c.communities, s.communities)
	copyMap(c.participants, s.participants)
	for id, r := range s.roles {
		r.Permissions = append([]models.Permission(nil), r.Permissions...)
		c.roles[id] = r
	}
	for pid, roles := range s.assignments {
		set := make(map[int]struct{}, len(roles))
		for rid := range roles {
			set[rid] = struct{}{}
		}
		c.assignments[pid] = set
	}
	copyMap(c.categories, s.categories)
	copyMap(c.channels, s.channels)
	copyMap(c.invitations, s.invitations)
	copyMap(c.chats, s.chats)
	copyMap(c.chatParticipants, s.chatParticipants)
	copyMap(c.messages, s.messages)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *state) next(table string) int {
	s.seq[table]++
	return s.seq[table]
}

// Store is an in-memory repositories.Store.
type Store struct {
	mu   sync.Mutex
	data *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// InTx runs fn against a private copy of the data and commits it on success.
func (s *Store) InTx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{s: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type tx struct {
	s *state
}

func (t *tx) List(kind models.ListKind) repositories.ListRepository {
	return &listRepo{s: t.s, kind: kind}
}

func (t *tx) Communities() repositories.CommunityRepository {
	return &communityRepo{s: t.s}
}

func (t *tx) Channels() repositories.ChannelRepository {
	return &channelRepo{s: t.s}
}

func (t *tx) Chats() repositories.ChatRepository {
	return &chatRepo{s: t.s}
}

func (t *tx) Messages() repositories.MessageRepository {
	return &messageRepo{s: t.s}
}

var _ repositories.Store = (*Store)(nil)
