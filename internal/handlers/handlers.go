package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-service/internal/apperrors"
	"collab-service/internal/orderedlist"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
)

// Handler serves the read-side HTTP endpoints. Every read runs in one
// transaction so list pointers and rows are observed together.
type Handler struct {
	store repositories.Store
	gate  *permissions.Gate
	lists *orderedlist.Store
}

func NewHandler(store repositories.Store, gate *permissions.Gate, lists *orderedlist.Store) *Handler {
	return &Handler{store: store, gate: gate, lists: lists}
}

// Register mounts the endpoints on an authenticated router group.
func (h *Handler) Register(rg gin.IRoutes) {
	rg.GET("/communities", h.ListCommunities)
	rg.GET("/communities/:community_id/categories", h.ListCategories)
	rg.GET("/communities/:community_id/categories/:category_id/channels", h.ListChannels)
	rg.GET("/chats/:chat_id/messages", h.GetChatMessages)
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code.Status() >= http.StatusInternalServerError {
		log.Printf("handlers: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(appErr.Code.Status(), gin.H{"error": appErr.Message})
}
