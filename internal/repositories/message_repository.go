package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

const messageColumns = `id, chat_id, sender_id, content, sent, updated`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	tx *sqlx.Tx
}

func (r *MessageRepo) CreateMessage(ctx context.Context, chatID int, senderID int, content string, sent time.Time) (models.Message, error) {
	var msg models.Message
	err := r.tx.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, sender_id, content, sent) VALUES ($1, $2, $3, $4)
        RETURNING `+messageColumns, chatID, senderID, content, sent)
	return msg, err
}

func (r *MessageRepo) GetMessage(ctx context.Context, chatID int, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND chat_id=$2`, messageID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func (r *MessageRepo) UpdateMessage(ctx context.Context, messageID int, content string, updated time.Time) (models.Message, error) {
	var msg models.Message
	err := r.tx.GetContext(ctx, &msg, `UPDATE messages SET content=$1, updated=$2 WHERE id=$3 RETURNING `+messageColumns, content, updated, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int) error {
	return execOne(ctx, r.tx, ErrMessageNotFound, `DELETE FROM messages WHERE id=$1`, messageID)
}

func (r *MessageRepo) ListMessages(ctx context.Context, chatID int, beforeID int, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE chat_id=$1 AND ($2 = 0 OR id < $2)
            ORDER BY sent DESC, id DESC
            LIMIT $3
        ) page ORDER BY sent ASC, id ASC`
	var msgs []models.Message
	err := r.tx.SelectContext(ctx, &msgs, query, chatID, beforeID, limit)
	return msgs, err
}
