package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-service/internal/models"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// GetChatMessages pages backwards through a chat's history. Query params:
// before (message id, exclusive) and limit.
func (h *Handler) GetChatMessages(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	before, err := queryInt(c, "before", 0)
	if err != nil || before < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	ctx := c.Request.Context()

	var msgs []models.Message
	err = h.store.InTx(ctx, func(tx repositories.Tx) error {
		if _, err := h.gate.Check(ctx, tx, c.GetInt("userID"), permissions.Chat(chatID), permissions.Requirement{}); err != nil {
			return err
		}
		var err error
		msgs, err = tx.Messages().ListMessages(ctx, chatID, before, limit)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
