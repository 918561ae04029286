package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetSessions returns the most recent archived sessions, newest first.
func (h *Handler) GetSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.store.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}
