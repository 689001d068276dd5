// Package orderedlist keeps rows in a user-controlled order through prev/next
// pointers stored on the rows themselves. Every mutation rewrites a constant
// number of rows and must run inside the caller's transaction.
package orderedlist

import (
	"context"
	"errors"
	"fmt"

	"collab-service/internal/apperrors"
	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

// DefaultMaxDepth bounds reconstruction when no explicit limit is configured.
const DefaultMaxDepth = 10000

// Store implements insert, remove, move and reconstruct over a ListRepository.
type Store struct {
	maxDepth int
}

// New builds a Store whose traversals stop after maxDepth nodes.
func New(maxDepth int) *Store {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Store{maxDepth: maxDepth}
}

// Insert links a detached node into scope, appending it when beforeID is nil
// and splicing it right before beforeID otherwise.
func (s *Store) Insert(ctx context.Context, repo repositories.ListRepository, scope int, nodeID int, beforeID *int) (models.ListNode, error) {
	if err := repo.LockScope(ctx, scope); err != nil {
		return models.ListNode{}, fmt.Errorf("lock scope: %w", err)
	}
	node, err := s.node(ctx, repo, scope, nodeID)
	if err != nil {
		return models.ListNode{}, err
	}
	if !node.IsHead() || !node.IsTail() {
		return models.ListNode{}, apperrors.Conflict(fmt.Sprintf("node %d is already linked", nodeID))
	}
	if beforeID != nil {
		if _, err := s.node(ctx, repo, scope, *beforeID); err != nil {
			return models.ListNode{}, err
		}
	}
	return s.insert(ctx, repo, node, beforeID)
}

// Remove detaches a node and stitches its neighbours together. The row itself
// is left in place for the caller to delete or re-insert.
func (s *Store) Remove(ctx context.Context, repo repositories.ListRepository, scope int, nodeID int) error {
	if err := repo.LockScope(ctx, scope); err != nil {
		return fmt.Errorf("lock scope: %w", err)
	}
	node, err := s.node(ctx, repo, scope, nodeID)
	if err != nil {
		return err
	}
	return s.remove(ctx, repo, node)
}

// Move places a node immediately before beforeID, or at the tail when beforeID
// is nil. Moving a node before its current successor changes nothing.
func (s *Store) Move(ctx context.Context, repo repositories.ListRepository, scope int, nodeID int, beforeID *int) (models.ListNode, error) {
	if err := repo.LockScope(ctx, scope); err != nil {
		return models.ListNode{}, fmt.Errorf("lock scope: %w", err)
	}
	node, err := s.node(ctx, repo, scope, nodeID)
	if err != nil {
		return models.ListNode{}, err
	}
	if beforeID != nil {
		if _, err := s.node(ctx, repo, scope, *beforeID); err != nil {
			return models.ListNode{}, err
		}
	}
	if models.SameID(node.NextID, beforeID) {
		return node, nil
	}

	if err := s.remove(ctx, repo, node); err != nil {
		return models.ListNode{}, err
	}
	node.PrevID, node.NextID = nil, nil
	return s.insert(ctx, repo, node, beforeID)
}

// Reconstruct returns the nodes of scope from head to tail, or an integrity
// error when the pointers do not form a single chain over every row.
func (s *Store) Reconstruct(ctx context.Context, repo repositories.ListRepository, scope int) ([]models.ListNode, error) {
	chain, err := repo.Chain(ctx, scope, s.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("walk list: %w", err)
	}
	count, err := repo.Count(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("count list: %w", err)
	}

	seen := make(map[int]struct{}, len(chain))
	for i, n := range chain {
		if n.Depth > s.maxDepth {
			return nil, apperrors.Integrity(fmt.Sprintf("list %d exceeds %d nodes", scope, s.maxDepth))
		}
		if n.Depth != i+1 {
			return nil, apperrors.Integrity(fmt.Sprintf("list %d has more than one head", scope))
		}
		if _, dup := seen[n.ID]; dup {
			return nil, apperrors.Integrity(fmt.Sprintf("list %d has a cycle at node %d", scope, n.ID))
		}
		seen[n.ID] = struct{}{}
		if i > 0 && !models.SameID(n.PrevID, &chain[i-1].ID) {
			return nil, apperrors.Integrity(fmt.Sprintf("list %d node %d has an asymmetric prev pointer", scope, n.ID))
		}
	}
	if len(chain) != count {
		return nil, apperrors.Integrity(fmt.Sprintf("list %d reaches %d of %d nodes", scope, len(chain), count))
	}
	return chain, nil
}

// IDs extracts node ids in order.
func IDs(nodes []models.ListNode) []int {
	ids := make([]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func (s *Store) node(ctx context.Context, repo repositories.ListRepository, scope int, id int) (models.ListNode, error) {
	node, err := repo.GetNode(ctx, id)
	if errors.Is(err, repositories.ErrNodeNotFound) {
		return models.ListNode{}, apperrors.NotFound(fmt.Sprintf("node %d not found", id))
	}
	if err != nil {
		return models.ListNode{}, fmt.Errorf("get node %d: %w", id, err)
	}
	if node.Scope != scope {
		return models.ListNode{}, apperrors.ScopeMismatch(fmt.Sprintf("node %d is not in scope %d", id, scope))
	}
	return node, nil
}

func (s *Store) insert(ctx context.Context, repo repositories.ListRepository, node models.ListNode, beforeID *int) (models.ListNode, error) {
	if beforeID == nil {
		tails, err := repo.Tails(ctx, node.Scope, node.ID)
		if err != nil {
			return models.ListNode{}, fmt.Errorf("find tail: %w", err)
		}
		switch len(tails) {
		case 0:
			return node, nil
		case 1:
			tail := tails[0]
			if err := repo.SetNext(ctx, tail.ID, models.IntPtr(node.ID)); err != nil {
				return models.ListNode{}, err
			}
			if err := repo.SetPrev(ctx, node.ID, models.IntPtr(tail.ID)); err != nil {
				return models.ListNode{}, err
			}
			node.PrevID = models.IntPtr(tail.ID)
			return node, nil
		default:
			return models.ListNode{}, apperrors.Integrity(fmt.Sprintf("list %d has %d tails", node.Scope, len(tails)))
		}
	}

	if *beforeID == node.ID {
		return models.ListNode{}, apperrors.Validation("node cannot be placed before itself", apperrors.FieldError{Field: "before_id", Rule: "ne_id"})
	}
	before, err := s.node(ctx, repo, node.Scope, *beforeID)
	if err != nil {
		return models.ListNode{}, err
	}

	prev := before.PrevID
	if err := repo.SetPrev(ctx, node.ID, prev); err != nil {
		return models.ListNode{}, err
	}
	if err := repo.SetNext(ctx, node.ID, models.IntPtr(before.ID)); err != nil {
		return models.ListNode{}, err
	}
	if err := repo.SetPrev(ctx, before.ID, models.IntPtr(node.ID)); err != nil {
		return models.ListNode{}, err
	}
	if prev != nil {
		if err := repo.SetNext(ctx, *prev, models.IntPtr(node.ID)); err != nil {
			return models.ListNode{}, err
		}
	}
	node.PrevID = prev
	node.NextID = models.IntPtr(before.ID)
	return node, nil
}

func (s *Store) remove(ctx context.Context, repo repositories.ListRepository, node models.ListNode) error {
	if !node.IsHead() {
		if err := repo.SetNext(ctx, *node.PrevID, node.NextID); err != nil {
			return err
		}
	}
	if !node.IsTail() {
		if err := repo.SetPrev(ctx, *node.NextID, node.PrevID); err != nil {
			return err
		}
	}
	if !node.IsHead() {
		if err := repo.SetPrev(ctx, node.ID, nil); err != nil {
			return err
		}
	}
	if !node.IsTail() {
		if err := repo.SetNext(ctx, node.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
