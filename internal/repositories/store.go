package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	db *sqlx.DB
}

// NewPgStore constructs a PgStore.
func NewPgStore(db *sqlx.DB) *PgStore {
	return &PgStore{db: db}
}

// InTx runs fn inside a database transaction and commits when it succeeds.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) List(kind models.ListKind) ListRepository {
	return &ListRepo{tx: t.tx, table: listTables[kind]}
}

func (t *pgTx) Communities() CommunityRepository {
	return &CommunityRepo{tx: t.tx}
}

func (t *pgTx) Channels() ChannelRepository {
	return &ChannelRepo{tx: t.tx}
}

func (t *pgTx) Chats() ChatRepository {
	return &ChatRepo{tx: t.tx}
}

func (t *pgTx) Messages() MessageRepository {
	return &MessageRepo{tx: t.tx}
}
