package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus returns the latest monitor snapshot.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshots.Snapshot())
}
