package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
)

// AdminHandler exposes platform-operator endpoints. All routes sit behind
// RequirePlatformAdmin; the scheduler runs the same jobs on a cadence, these
// exist for manual intervention.
type AdminHandler struct {
	svcMgr *services.ServiceManager
}

func NewAdminHandler(svcMgr *services.ServiceManager) *AdminHandler {
	return &AdminHandler{
		svcMgr: svcMgr,
	}
}

// SweepInstances handles POST /api/admin/instances/sweep
func (h *AdminHandler) SweepInstances(c *gin.Context) {
	if err := h.svcMgr.Provisioning.SweepInstances(c.Request.Context()); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: "Instance health sweep completed"})
}

// CleanupOutbox handles POST /api/admin/outbox/cleanup
func (h *AdminHandler) CleanupOutbox(c *gin.Context) {
	deleted, err := h.svcMgr.Outbox.CleanupProcessed(c.Request.Context(), 7*24*time.Hour)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Processed outbox events removed",
		"deleted":              deleted,
	})
}
