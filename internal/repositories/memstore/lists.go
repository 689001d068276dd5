package memstore

import (
	"context"
	"sort"

	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

type listRepo struct {
	s    *state
	kind models.ListKind
}

// LockScope is a no-op: the store already serializes transactions.
func (r *listRepo) LockScope(ctx context.Context, scope int) error {
	return nil
}

func (r *listRepo) GetNode(ctx context.Context, id int) (models.ListNode, error) {
	node, ok := r.s.nodes[r.kind][id]
	if !ok {
		return models.ListNode{}, repositories.ErrNodeNotFound
	}
	return node, nil
}

func (r *listRepo) Tails(ctx context.Context, scope int, excludeID int) ([]models.ListNode, error) {
	var tails []models.ListNode
	for _, n := range r.s.nodes[r.kind] {
		if n.Scope == scope && n.IsTail() && n.ID != excludeID {
			tails = append(tails, n)
		}
	}
	sort.Slice(tails, func(i, j int) bool { return tails[i].ID < tails[j].ID })
	return tails, nil
}

func (r *listRepo) SetPrev(ctx context.Context, id int, prev *int) error {
	node, ok := r.s.nodes[r.kind][id]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	node.PrevID = clonePtr(prev)
	r.s.nodes[r.kind][id] = node
	return nil
}

func (r *listRepo) SetNext(ctx context.Context, id int, next *int) error {
	node, ok := r.s.nodes[r.kind][id]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	node.NextID = clonePtr(next)
	r.s.nodes[r.kind][id] = node
	return nil
}

// Chain follows the same walk as the recursive query of the Postgres store.
func (r *listRepo) Chain(ctx context.Context, scope int, maxDepth int) ([]models.ListNode, error) {
	nodes := r.s.nodes[r.kind]
	var frontier []models.ListNode
	for _, n := range nodes {
		if n.Scope == scope && n.IsHead() {
			n.Depth = 1
			frontier = append(frontier, n)
		}
	}

	var out []models.ListNode
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].ID < frontier[j].ID })
		out = append(out, frontier...)
		var next []models.ListNode
		for _, n := range frontier {
			if n.NextID == nil || n.Depth > maxDepth {
				continue
			}
			child, ok := nodes[*n.NextID]
			if !ok || child.Scope != scope {
				continue
			}
			child.Depth = n.Depth + 1
			next = append(next, child)
		}
		frontier = next
	}
	return out, nil
}

func (r *listRepo) Count(ctx context.Context, scope int) (int, error) {
	count := 0
	for _, n := range r.s.nodes[r.kind] {
		if n.Scope == scope {
			count++
		}
	}
	return count, nil
}

func (s *state) addNode(kind models.ListKind, id, scope int) {
	s.nodes[kind][id] = models.ListNode{ID: id, Scope: scope}
}

func (s *state) links(kind models.ListKind, id int) (*int, *int) {
	n := s.nodes[kind][id]
	return clonePtr(n.PrevID), clonePtr(n.NextID)
}

func clonePtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CorruptLink overwrites a node's next pointer, bypassing list invariants.
func (s *Store) CorruptLink(kind models.ListKind, id int, next *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.data.nodes[kind][id]
	n.NextID = clonePtr(next)
	s.data.nodes[kind][id] = n
}
