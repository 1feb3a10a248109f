// Package api exposes the read model and the message ingress over HTTP, plus
// a websocket stream of board updates.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/internal/urge"
	"github.com/tertt-dev/grokgates/pkg/logging"
)

// Conversations is the slice of the conversation manager the API needs.
// AddMessage opens a fresh thread when none is active, so callers never see
// a no-thread error.
type Conversations interface {
	AddMessage(ctx context.Context, agent, content string) (bool, error)
	Current(ctx context.Context) (store.Conversation, error)
	StartNew(ctx context.Context) (store.Conversation, error)
}

// Handlers binds the HTTP surface to the store and services.
type Handlers struct {
	store  *store.Store
	urge   *urge.Engine
	convos Conversations
	logger logging.Logger
}

func NewHandlers(st *store.Store, urgeEngine *urge.Engine, convos Conversations, logger logging.Logger) *Handlers {
	return &Handlers{store: st, urge: urgeEngine, convos: convos, logger: logger}
}

// Register mounts all API routes on the router.
func (h *Handlers) Register(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/board", h.getBoard)
		api.GET("/beacons", h.getBeacons)
		api.GET("/conversations", h.listConversations)
		api.GET("/conversations/current", h.getCurrentConversation)
		api.GET("/conversations/:id", h.getConversation)
		api.POST("/conversations", h.startConversation)
		api.POST("/messages", h.postMessage)
		api.GET("/proposals", h.getProposals)
		api.GET("/urge", h.getUrge)
	}
	router.GET("/ws/board", h.boardStream)
}

func limitParam(c *gin.Context, def, max int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func (h *Handlers) getBoard(c *gin.Context) {
	limit := limitParam(c, 50, 200)
	entries, err := h.store.BoardHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read board"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handlers) getBeacons(c *gin.Context) {
	limit := limitParam(c, 10, 50)
	batches, err := h.store.BeaconFeed(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read beacon feed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

func (h *Handlers) listConversations(c *gin.Context) {
	convs, err := h.store.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "count": len(convs)})
}

func (h *Handlers) getCurrentConversation(c *gin.Context) {
	conv, err := h.convos.Current(c.Request.Context())
	if err == store.ErrNoThread {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active conversation"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handlers) getConversation(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.store.GetConversation(c.Request.Context(), id)
	if err == store.ErrNoThread {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	lastN := limitParam(c, 0, 500)
	msgs, err := h.store.ThreadMessages(c.Request.Context(), id, lastN)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func (h *Handlers) startConversation(c *gin.Context) {
	conv, err := h.convos.StartNew(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to start conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start conversation"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

type postMessageRequest struct {
	Agent   string `json:"agent" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (h *Handlers) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent and content are required"})
		return
	}

	ended, err := h.convos.AddMessage(c.Request.Context(), req.Agent, req.Content)
	if err != nil {
		h.logger.WithError(err).Error("Failed to append message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": ended})
}

func (h *Handlers) getProposals(c *gin.Context) {
	ctx := c.Request.Context()
	active, err := h.store.ActiveProposals(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load proposals"})
		return
	}
	history, err := h.store.ProposalHistory(ctx, limitParam(c, 50, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load proposal history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "history": history})
}

func (h *Handlers) getUrge(c *gin.Context) {
	c.JSON(http.StatusOK, h.urge.Metrics())
}
