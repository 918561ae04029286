package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCalibration returns the persisted load-cell calibration, 404 when the
// scale has never been calibrated.
func (h *Handler) GetCalibration(c *gin.Context) {
	rec, err := h.store.LoadCalibration(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve calibration"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scale has not been calibrated"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
