package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	tx *sqlx.Tx
}

// CreateCategory inserts a detached category row.
func (r *ChannelRepo) CreateCategory(ctx context.Context, communityID int, name string) (models.Category, error) {
	var cat models.Category
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO categories (community_id, name) VALUES ($1, $2)
        RETURNING id, community_id, name, prev_id, next_id`, communityID, name).
		Scan(&cat.ID, &cat.CommunityID, &cat.Name, &cat.PrevID, &cat.NextID)
	return cat, err
}

func (r *ChannelRepo) GetCategory(ctx context.Context, categoryID int) (models.Category, error) {
	var cat models.Category
	err := r.tx.GetContext(ctx, &cat, `SELECT id, community_id, name, prev_id, next_id FROM categories WHERE id=$1`, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Category{}, ErrCategoryNotFound
	}
	return cat, err
}

func (r *ChannelRepo) DeleteCategory(ctx context.Context, categoryID int) error {
	return execOne(ctx, r.tx, ErrCategoryNotFound, `DELETE FROM categories WHERE id=$1`, categoryID)
}

func (r *ChannelRepo) Categories(ctx context.Context, communityID int) (map[int]models.Category, error) {
	var cats []models.Category
	if err := r.tx.SelectContext(ctx, &cats, `SELECT id, community_id, name, prev_id, next_id FROM categories WHERE community_id=$1`, communityID); err != nil {
		return nil, err
	}
	result := make(map[int]models.Category, len(cats))
	for _, cat := range cats {
		result[cat.ID] = cat
	}
	return result, nil
}

// CreateChannel inserts a detached channel row.
func (r *ChannelRepo) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO channels (community_id, category_id, name, kind) VALUES ($1, $2, $3, $4)
        RETURNING id, prev_id, next_id`, ch.CommunityID, ch.CategoryID, ch.Name, ch.Kind).
		Scan(&ch.ID, &ch.PrevID, &ch.NextID)
	return ch, err
}

func (r *ChannelRepo) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	var ch models.Channel
	err := r.tx.GetContext(ctx, &ch, `SELECT id, community_id, category_id, name, kind, prev_id, next_id FROM channels WHERE id=$1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, err
}

func (r *ChannelRepo) DeleteChannel(ctx context.Context, channelID int) error {
	return execOne(ctx, r.tx, ErrChannelNotFound, `DELETE FROM channels WHERE id=$1`, channelID)
}

func (r *ChannelRepo) Channels(ctx context.Context, categoryID int) (map[int]models.Channel, error) {
	var chans []models.Channel
	if err := r.tx.SelectContext(ctx, &chans, `SELECT id, community_id, category_id, name, kind, prev_id, next_id FROM channels WHERE category_id=$1`, categoryID); err != nil {
		return nil, err
	}
	result := make(map[int]models.Channel, len(chans))
	for _, ch := range chans {
		result[ch.ID] = ch
	}
	return result, nil
}
