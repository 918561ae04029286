package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetEvents returns the most recent event log entries, newest first.
func (h *Handler) GetEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve events"})
		return
	}
	c.JSON(http.StatusOK, events)
}
