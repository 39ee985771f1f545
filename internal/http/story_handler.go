package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scribly/internal/domain"
	"scribly/internal/service"
)

// StoryHandler mantiene dependencias para endpoints de historias.
type StoryHandler struct {
	logger  *zap.Logger
	scribly *service.Scribly
}

func NewStoryHandler(logger *zap.Logger, scribly *service.Scribly) *StoryHandler {
	return &StoryHandler{
		logger:  logger,
		scribly: scribly,
	}
}

// GetMe maneja GET /me.
func (h *StoryHandler) GetMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	me, err := h.scribly.GetMe(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        me.User,
		"drafts":      me.Drafts(),
		"in_progress": me.InProgress(),
		"done":        me.Done(),
	})
}

// StartStory maneja POST /stories.
func (h *StoryHandler) StartStory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		Title string `json:"title" binding:"required"`
		Body  string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	story, err := h.scribly.StartStory(c.Request.Context(), user, req.Title, req.Body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"story": story})
}

// GetStory maneja GET /stories/:id.
func (h *StoryHandler) GetStory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	story, err := h.scribly.GetStory(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": story})
}

// AddCowriters maneja POST /stories/:id/cowriters.
func (h *StoryHandler) AddCowriters(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		Usernames []string `json:"usernames" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	story, err := h.scribly.AddCowriters(c.Request.Context(), user, c.Param("id"), req.Usernames)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": story})
}

// TakeTurn maneja POST /stories/:id/turns.
func (h *StoryHandler) TakeTurn(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		Action string `json:"action" binding:"required"`
		Text   string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	storyID := c.Param("id")
	var (
		story domain.Story
		err   error
	)
	switch domain.TurnAction(req.Action) {
	case domain.TurnPass:
		story, err = h.scribly.TakeTurnPass(c.Request.Context(), user, storyID)
	case domain.TurnWrite:
		story, err = h.scribly.TakeTurnWrite(c.Request.Context(), user, storyID, req.Text)
	case domain.TurnFinish:
		story, err = h.scribly.TakeTurnFinish(c.Request.Context(), user, storyID)
	case domain.TurnWriteAndFinish:
		story, err = h.scribly.TakeTurnWriteAndFinish(c.Request.Context(), user, storyID, req.Text)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown turn action"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": story})
}

// HideStory maneja POST /stories/:id/hide.
func (h *StoryHandler) HideStory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if err := h.scribly.HideStory(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "hidden"})
}

// UnhideStory maneja POST /stories/:id/unhide.
func (h *StoryHandler) UnhideStory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if err := h.scribly.UnhideStory(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "visible"})
}

// Nudge maneja POST /stories/:id/nudge.
func (h *StoryHandler) Nudge(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		NudgeeID string `json:"nudgee_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.scribly.Nudge(c.Request.Context(), user, req.NudgeeID, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "nudged"})
}
