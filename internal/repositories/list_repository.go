package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

type listTable struct {
	name    string
	scope   string
	lockKey int
}

// Table and column names are fixed here and never come from input.
var listTables = map[models.ListKind]listTable{
	models.ListCommunities: {name: "participants", scope: "user_id", lockKey: 1},
	models.ListCategories:  {name: "categories", scope: "community_id", lockKey: 2},
	models.ListChannels:    {name: "channels", scope: "category_id", lockKey: 3},
}

// ListRepo is a sqlx implementation of ListRepository over one table.
type ListRepo struct {
	tx    *sqlx.Tx
	table listTable
}

// LockScope takes a transaction-scoped advisory lock for the scope, then
// row-locks every node in it.
func (r *ListRepo) LockScope(ctx context.Context, scope int) error {
	if _, err := r.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, r.table.lockKey, scope); err != nil {
		return fmt.Errorf("lock %s scope %d: %w", r.table.name, scope, err)
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s=$1 FOR UPDATE`, r.table.name, r.table.scope)
	var ids []int
	if err := r.tx.SelectContext(ctx, &ids, query, scope); err != nil {
		return fmt.Errorf("lock %s rows: %w", r.table.name, err)
	}
	return nil
}

func (r *ListRepo) GetNode(ctx context.Context, id int) (models.ListNode, error) {
	query := fmt.Sprintf(`SELECT id, %s AS scope_id, prev_id, next_id FROM %s WHERE id=$1`, r.table.scope, r.table.name)
	var node models.ListNode
	err := r.tx.GetContext(ctx, &node, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ListNode{}, ErrNodeNotFound
	}
	return node, err
}

func (r *ListRepo) Tails(ctx context.Context, scope int, excludeID int) ([]models.ListNode, error) {
	query := fmt.Sprintf(`SELECT id, %[1]s AS scope_id, prev_id, next_id FROM %[2]s
        WHERE %[1]s=$1 AND next_id IS NULL AND id<>$2 ORDER BY id`, r.table.scope, r.table.name)
	var nodes []models.ListNode
	err := r.tx.SelectContext(ctx, &nodes, query, scope, excludeID)
	return nodes, err
}

func (r *ListRepo) SetPrev(ctx context.Context, id int, prev *int) error {
	return r.setLink(ctx, "prev_id", id, prev)
}

func (r *ListRepo) SetNext(ctx context.Context, id int, next *int) error {
	return r.setLink(ctx, "next_id", id, next)
}

func (r *ListRepo) setLink(ctx context.Context, column string, id int, target *int) error {
	query := fmt.Sprintf(`UPDATE %s SET %s=$1 WHERE id=$2`, r.table.name, column)
	res, err := r.tx.ExecContext(ctx, query, target, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// Chain reconstructs the order with a recursive walk from the head. Rows past
// maxDepth are still returned (one level) so callers can detect cycles.
func (r *ListRepo) Chain(ctx context.Context, scope int, maxDepth int) ([]models.ListNode, error) {
	query := fmt.Sprintf(`WITH RECURSIVE chain AS (
            SELECT id, %[1]s AS scope_id, prev_id, next_id, 1 AS depth
            FROM %[2]s
            WHERE %[1]s=$1 AND prev_id IS NULL
            UNION ALL
            SELECT t.id, t.%[1]s, t.prev_id, t.next_id, chain.depth + 1
            FROM %[2]s t
            JOIN chain ON t.id = chain.next_id
            WHERE t.%[1]s=$1 AND chain.depth <= $2
        )
        SELECT id, scope_id, prev_id, next_id, depth FROM chain ORDER BY depth, id`, r.table.scope, r.table.name)
	var nodes []models.ListNode
	err := r.tx.SelectContext(ctx, &nodes, query, scope, maxDepth)
	return nodes, err
}

func (r *ListRepo) Count(ctx context.Context, scope int) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s=$1`, r.table.name, r.table.scope)
	var count int
	err := r.tx.GetContext(ctx, &count, query, scope)
	return count, err
}
