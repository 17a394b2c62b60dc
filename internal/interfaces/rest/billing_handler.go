package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
)

type BillingHandler struct {
	svcMgr *services.ServiceManager
}

func NewBillingHandler(svcMgr *services.ServiceManager) *BillingHandler {
	return &BillingHandler{
		svcMgr: svcMgr,
	}
}

// GetSubscription handles GET /api/billing/subscription
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	user := GetUserFromContext(c)

	if _, err := h.svcMgr.Orgs.RequireMember(c.Request.Context(), user, user.ActiveOrgID); err != nil {
		RespondAppError(c, err)
		return
	}

	sub, plan, err := h.svcMgr.Billing.GetSubscription(c.Request.Context(), user.ActiveOrgID)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription": sub,
		"plan":         plan,
	})
}

// Webhook handles POST /api/billing/webhook. The billing provider signs the
// raw body; signature verification happens before any parsing.
func (h *BillingHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondAppError(c, errors.NewValidationError("body", "Failed to read request body"))
		return
	}

	signature := c.GetHeader(constants.HeaderBillingSignature)
	if err := h.svcMgr.Billing.HandleWebhook(c.Request.Context(), body, signature); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
