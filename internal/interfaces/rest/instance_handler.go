package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
)

type InstanceHandler struct {
	svcMgr *services.ServiceManager
}

func NewInstanceHandler(svcMgr *services.ServiceManager) *InstanceHandler {
	return &InstanceHandler{
		svcMgr: svcMgr,
	}
}

// RequestInstance handles POST /api/instances. Provisioning is async; the
// response carries the row in the requested state.
func (h *InstanceHandler) RequestInstance(c *gin.Context) {
	user := GetUserFromContext(c)

	if err := h.svcMgr.Orgs.RequireAdmin(c.Request.Context(), user, user.ActiveOrgID); err != nil {
		RespondAppError(c, err)
		return
	}

	instance, err := h.svcMgr.Provisioning.RequestInstance(c.Request.Context(), user)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		constants.FieldMessage: "Instance provisioning started",
		"instance":             instance,
	})
}

// ListInstances handles GET /api/instances
func (h *InstanceHandler) ListInstances(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "instances", func() (interface{}, error) {
		return h.svcMgr.Provisioning.ListInstances(c.Request.Context(), user.ActiveOrgID)
	})
}

// GetInstance handles GET /api/instances/:id
func (h *InstanceHandler) GetInstance(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "instance", func() (interface{}, error) {
		return h.svcMgr.Provisioning.GetInstance(c.Request.Context(), user, c.Param("id"))
	})
}

// RetryInstance handles POST /api/instances/:id/retry
func (h *InstanceHandler) RetryInstance(c *gin.Context) {
	user := GetUserFromContext(c)

	if err := h.svcMgr.Orgs.RequireAdmin(c.Request.Context(), user, user.ActiveOrgID); err != nil {
		RespondAppError(c, err)
		return
	}

	if err := h.svcMgr.Provisioning.RetryInstance(c.Request.Context(), user, c.Param("id")); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{constants.FieldMessage: "Instance provisioning restarted"})
}

// DeprovisionInstance handles DELETE /api/instances/:id
func (h *InstanceHandler) DeprovisionInstance(c *gin.Context) {
	user := GetUserFromContext(c)

	if err := h.svcMgr.Orgs.RequireAdmin(c.Request.Context(), user, user.ActiveOrgID); err != nil {
		RespondAppError(c, err)
		return
	}

	if err := h.svcMgr.Provisioning.DeprovisionInstance(c.Request.Context(), user, c.Param("id")); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{constants.FieldMessage: "Instance deprovisioning started"})
}
