package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/techno-hippies/heavengate/internal/api/models"
)

// GetRules returns the domains currently blocked for a user.
func (h *Handler) GetRules(c *gin.Context) {
	userID := c.Param("id")
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "durable store unavailable"})
		return
	}

	domains, err := h.db.ListRules(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.RulesResponse{UserID: userID, Domains: domains})
}

// PutRules replaces a user's block list, persisting it and swapping the
// in-memory trie so the next query for that user sees the new set.
func (h *Handler) PutRules(c *gin.Context) {
	userID := c.Param("id")
	var req models.RulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "durable store unavailable"})
		return
	}

	if err := h.db.ReplaceRules(c.Request.Context(), userID, req.Domains); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	if cache := h.getRules(); cache != nil {
		cache.Replace(userID, req.Domains)
	}

	c.JSON(http.StatusOK, models.RulesResponse{UserID: userID, Domains: req.Domains})
}
