package controller

import (
	"strings"

	"hackreg/internal/theme/service"
	"hackreg/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SyncController serves occupancy snapshots to polling clients.
type SyncController struct {
	view *service.SyncView
}

// NewSyncController creates a new SyncController.
func NewSyncController(view *service.SyncView) *SyncController {
	return &SyncController{view: view}
}

// Poll returns the current snapshot plus a delta against ?since= when possible.
func (h *SyncController) Poll(c *gin.Context) {
	since := strings.TrimSpace(c.Query("since"))
	result, err := h.view.Poll(c.Request.Context(), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", `"`+result.Snapshot.Version+`"`)
	response.Success(c, result)
}
