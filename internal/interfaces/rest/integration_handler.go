package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
)

type IntegrationHandler struct {
	svcMgr *services.ServiceManager
}

func NewIntegrationHandler(svcMgr *services.ServiceManager) *IntegrationHandler {
	return &IntegrationHandler{
		svcMgr: svcMgr,
	}
}

// ConnectRequest represents a connect session request body
type ConnectRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// StartConnect handles POST /api/integrations/connect. Returns the broker
// session token the frontend hands to the hosted OAuth UI.
func (h *IntegrationHandler) StartConnect(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ConnectRequest
	if !BindJSON(c, &req) {
		return
	}

	session, err := h.svcMgr.Integrations.StartConnect(c.Request.Context(), user, req.Provider)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// ListConnections handles GET /api/integrations
func (h *IntegrationHandler) ListConnections(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "connections", func() (interface{}, error) {
		return h.svcMgr.Integrations.ListConnections(c.Request.Context(), user.ActiveOrgID)
	})
}

// EventFilterRequest represents the event filter update body
type EventFilterRequest struct {
	EventFilter string `json:"event_filter"`
}

// UpdateEventFilter handles PUT /api/integrations/:id/filter
func (h *IntegrationHandler) UpdateEventFilter(c *gin.Context) {
	user := GetUserFromContext(c)

	var req EventFilterRequest
	if !BindJSON(c, &req) {
		return
	}

	if err := h.svcMgr.Integrations.UpdateEventFilter(c.Request.Context(), user, c.Param("id"), req.EventFilter); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: "Event filter updated"})
}

// RevokeConnection handles DELETE /api/integrations/:id
func (h *IntegrationHandler) RevokeConnection(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleDeleteEnvelope(c, "Connection revoked", func() error {
		return h.svcMgr.Integrations.RevokeConnection(c.Request.Context(), user, c.Param("id"))
	})
}

// BrokerWebhook handles POST /api/integrations/webhook, the connector
// broker's callback endpoint.
func (h *IntegrationHandler) BrokerWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondAppError(c, errors.NewValidationError("body", "Failed to read request body"))
		return
	}

	signature := c.GetHeader(constants.HeaderBrokerSignature)
	if err := h.svcMgr.Integrations.HandleBrokerWebhook(c.Request.Context(), body, signature); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
