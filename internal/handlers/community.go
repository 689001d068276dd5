package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"collab-service/internal/apperrors"
	"collab-service/internal/models"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
)

// ListCommunities returns the caller's communities in their chosen order.
func (h *Handler) ListCommunities(c *gin.Context) {
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	var out []models.Community
	err := h.store.InTx(ctx, func(tx repositories.Tx) error {
		nodes, err := h.lists.Reconstruct(ctx, tx.List(models.ListCommunities), userID)
		if err != nil {
			return err
		}
		byParticipant, err := tx.Communities().CommunitiesForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("load communities: %w", err)
		}
		out = make([]models.Community, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, byParticipant[n.ID])
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": out})
}

// ListCategories returns a community's categories in order.
func (h *Handler) ListCategories(c *gin.Context) {
	communityID, ok := pathID(c, "community_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var out []models.Category
	err := h.store.InTx(ctx, func(tx repositories.Tx) error {
		if _, err := h.gate.Check(ctx, tx, c.GetInt("userID"), permissions.Community(communityID), permissions.Requirement{}); err != nil {
			return err
		}
		nodes, err := h.lists.Reconstruct(ctx, tx.List(models.ListCategories), communityID)
		if err != nil {
			return err
		}
		rows, err := tx.Channels().Categories(ctx, communityID)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		out = make([]models.Category, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, rows[n.ID])
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

// ListChannels returns the channels of one category in order.
func (h *Handler) ListChannels(c *gin.Context) {
	communityID, ok := pathID(c, "community_id")
	if !ok {
		return
	}
	categoryID, ok := pathID(c, "category_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var out []models.Channel
	err := h.store.InTx(ctx, func(tx repositories.Tx) error {
		if _, err := h.gate.Check(ctx, tx, c.GetInt("userID"), permissions.Community(communityID), permissions.Requirement{}); err != nil {
			return err
		}
		cat, err := tx.Channels().GetCategory(ctx, categoryID)
		if errors.Is(err, repositories.ErrCategoryNotFound) || (err == nil && cat.CommunityID != communityID) {
			return apperrors.NotFound("Category not found")
		}
		if err != nil {
			return fmt.Errorf("load category: %w", err)
		}
		nodes, err := h.lists.Reconstruct(ctx, tx.List(models.ListChannels), categoryID)
		if err != nil {
			return err
		}
		rows, err := tx.Channels().Channels(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("load channels: %w", err)
		}
		out = make([]models.Channel, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, rows[n.ID])
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}
