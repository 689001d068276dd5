package community

import (
	"errors"
	"fmt"

	"collab-service/internal/apperrors"
	"collab-service/internal/dispatch"
	"collab-service/internal/models"
	"collab-service/internal/repositories"
)

// NewCategory creates a category and links it before beforeID, or last.
func (s *Service) NewCategory(c *dispatch.Context, communityID int, name string, beforeID *int) (models.Category, error) {
	list := c.Tx.List(models.ListCategories)
	if err := s.ensureRoom(c, list, communityID, s.limits.CategoriesPerCommunity, "categories"); err != nil {
		return models.Category{}, err
	}
	cat, err := c.Tx.Channels().CreateCategory(c.Ctx, communityID, name)
	if err != nil {
		return models.Category{}, fmt.Errorf("create category: %w", err)
	}
	if _, err := s.lists.Insert(c.Ctx, list, communityID, cat.ID, beforeID); err != nil {
		return models.Category{}, err
	}
	return c.Tx.Channels().GetCategory(c.Ctx, cat.ID)
}

// DeleteCategory unlinks a category and deletes it with its channels.
func (s *Service) DeleteCategory(c *dispatch.Context, communityID, categoryID int) (Removal, error) {
	if _, err := s.category(c, communityID, categoryID); err != nil {
		return Removal{}, err
	}
	if err := s.lists.Remove(c.Ctx, c.Tx.List(models.ListCategories), communityID, categoryID); err != nil {
		return Removal{}, err
	}
	if err := c.Tx.Channels().DeleteCategory(c.Ctx, categoryID); err != nil {
		return Removal{}, fmt.Errorf("delete category: %w", err)
	}
	return Removal{CommunityID: communityID, ID: categoryID}, nil
}

// MoveCategory places a category before beforeID, or last.
func (s *Service) MoveCategory(c *dispatch.Context, communityID, categoryID int, beforeID *int) (models.Category, error) {
	if _, err := s.lists.Move(c.Ctx, c.Tx.List(models.ListCategories), communityID, categoryID, beforeID); err != nil {
		return models.Category{}, err
	}
	return c.Tx.Channels().GetCategory(c.Ctx, categoryID)
}

// NewChannel creates a channel in a category of the community.
func (s *Service) NewChannel(c *dispatch.Context, ch models.Channel, beforeID *int) (models.Channel, error) {
	if _, err := s.category(c, ch.CommunityID, ch.CategoryID); err != nil {
		return models.Channel{}, err
	}
	list := c.Tx.List(models.ListChannels)
	if err := s.ensureRoom(c, list, ch.CategoryID, s.limits.ChannelsPerCategory, "channels"); err != nil {
		return models.Channel{}, err
	}
	created, err := c.Tx.Channels().CreateChannel(c.Ctx, ch)
	if err != nil {
		return models.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	if _, err := s.lists.Insert(c.Ctx, list, ch.CategoryID, created.ID, beforeID); err != nil {
		return models.Channel{}, err
	}
	return c.Tx.Channels().GetChannel(c.Ctx, created.ID)
}

func (s *Service) DeleteChannel(c *dispatch.Context, communityID, categoryID, channelID int) (Removal, error) {
	if _, err := s.category(c, communityID, categoryID); err != nil {
		return Removal{}, err
	}
	if err := s.lists.Remove(c.Ctx, c.Tx.List(models.ListChannels), categoryID, channelID); err != nil {
		return Removal{}, err
	}
	if err := c.Tx.Channels().DeleteChannel(c.Ctx, channelID); err != nil {
		return Removal{}, fmt.Errorf("delete channel: %w", err)
	}
	return Removal{CommunityID: communityID, ID: channelID}, nil
}

// MoveChannel reorders a channel within its category.
func (s *Service) MoveChannel(c *dispatch.Context, communityID, categoryID, channelID int, beforeID *int) (models.Channel, error) {
	if _, err := s.category(c, communityID, categoryID); err != nil {
		return models.Channel{}, err
	}
	if _, err := s.lists.Move(c.Ctx, c.Tx.List(models.ListChannels), categoryID, channelID, beforeID); err != nil {
		return models.Channel{}, err
	}
	return c.Tx.Channels().GetChannel(c.Ctx, channelID)
}

// category loads a category and checks it belongs to communityID.
func (s *Service) category(c *dispatch.Context, communityID, categoryID int) (models.Category, error) {
	cat, err := c.Tx.Channels().GetCategory(c.Ctx, categoryID)
	if errors.Is(err, repositories.ErrCategoryNotFound) {
		return models.Category{}, apperrors.NotFound("Category not found")
	}
	if err != nil {
		return models.Category{}, fmt.Errorf("get category: %w", err)
	}
	if cat.CommunityID != communityID {
		return models.Category{}, apperrors.ScopeMismatch("Category belongs to another community")
	}
	return cat, nil
}
