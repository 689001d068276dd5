package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

const chatParticipantColumns = `chat_id, user_id, role, online, unread, activity`

// roleRankSQL mirrors models.ChatRole.Rank for ordering inside queries.
const roleRankSQL = `CASE role WHEN 'OWNER' THEN 4 WHEN 'ADMIN' THEN 3 WHEN 'MODER' THEN 2 WHEN 'BASIC' THEN 1 ELSE 0 END`

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	tx *sqlx.Tx
}

func (r *ChatRepo) CreateChat(ctx context.Context, name string) (models.Chat, error) {
	var chat models.Chat
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO chats (name) VALUES ($1) RETURNING id, name, created_at`, name).
		Scan(&chat.ID, &chat.Name, &chat.CreatedAt)
	return chat, err
}

func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.tx.GetContext(ctx, &chat, `SELECT id, name, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) error {
	return execOne(ctx, r.tx, ErrChatNotFound, `DELETE FROM chats WHERE id=$1`, chatID)
}

func (r *ChatRepo) AddParticipant(ctx context.Context, p models.ChatParticipant) error {
	_, err := r.tx.ExecContext(ctx, `INSERT INTO chat_participants (`+chatParticipantColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ChatID, p.UserID, p.Role, p.Online, p.Unread, p.Activity)
	if isUniqueViolation(err) {
		return ErrAlreadyParticipant
	}
	return err
}

func (r *ChatRepo) LockParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := r.tx.GetContext(ctx, &p, `SELECT `+chatParticipantColumns+` FROM chat_participants WHERE chat_id=$1 AND user_id=$2 FOR UPDATE`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatParticipant{}, ErrChatParticipantNotFound
	}
	return p, err
}

func (r *ChatRepo) UpdateParticipant(ctx context.Context, p models.ChatParticipant) error {
	return execOne(ctx, r.tx, ErrChatParticipantNotFound, `UPDATE chat_participants SET role=$1, online=$2, unread=$3, activity=$4
        WHERE chat_id=$5 AND user_id=$6`, p.Role, p.Online, p.Unread, p.Activity, p.ChatID, p.UserID)
}

func (r *ChatRepo) DeleteParticipant(ctx context.Context, chatID int, userID int) error {
	return execOne(ctx, r.tx, ErrChatParticipantNotFound, `DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
}

func (r *ChatRepo) ListParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error) {
	var list []models.ChatParticipant
	err := r.tx.SelectContext(ctx, &list, `SELECT `+chatParticipantColumns+` FROM chat_participants WHERE chat_id=$1 ORDER BY user_id`, chatID)
	return list, err
}

func (r *ChatRepo) IncrementUnreadOffline(ctx context.Context, chatID int, exceptUserID int) ([]models.ChatParticipant, error) {
	var list []models.ChatParticipant
	err := r.tx.SelectContext(ctx, &list, `UPDATE chat_participants SET unread = unread + 1
        WHERE chat_id=$1 AND user_id<>$2 AND online = 0
        RETURNING `+chatParticipantColumns, chatID, exceptUserID)
	return list, err
}

func (r *ChatRepo) NextOwner(ctx context.Context, chatID int) (models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := r.tx.GetContext(ctx, &p, `SELECT `+chatParticipantColumns+` FROM chat_participants WHERE chat_id=$1
        ORDER BY `+roleRankSQL+` DESC, activity DESC, unread ASC, user_id ASC LIMIT 1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatParticipant{}, ErrChatParticipantNotFound
	}
	return p, err
}
