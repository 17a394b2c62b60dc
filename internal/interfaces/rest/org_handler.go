package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
)

type OrgHandler struct {
	svcMgr *services.ServiceManager
}

func NewOrgHandler(svcMgr *services.ServiceManager) *OrgHandler {
	return &OrgHandler{
		svcMgr: svcMgr,
	}
}

// CreateOrgRequest represents create organization request body
type CreateOrgRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateOrg handles POST /api/orgs
func (h *OrgHandler) CreateOrg(c *gin.Context) {
	user := GetUserFromContext(c)

	var req CreateOrgRequest
	if !BindJSON(c, &req) {
		return
	}

	org, err := h.svcMgr.Orgs.CreateOrg(c.Request.Context(), user, req.Name)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		constants.FieldMessage: "Organization created",
		"organization":         org,
	})
}

// ListOrgs handles GET /api/orgs
func (h *OrgHandler) ListOrgs(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "organizations", func() (interface{}, error) {
		return h.svcMgr.Orgs.ListOrgs(c.Request.Context(), user.ID)
	})
}

// GetOrg handles GET /api/orgs/:id
func (h *OrgHandler) GetOrg(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "organization", func() (interface{}, error) {
		return h.svcMgr.Orgs.GetOrg(c.Request.Context(), user, c.Param("id"))
	})
}

// ListMembers handles GET /api/orgs/:id/members
func (h *OrgHandler) ListMembers(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleGetEnvelope(c, "members", func() (interface{}, error) {
		return h.svcMgr.Orgs.ListMembers(c.Request.Context(), user, c.Param("id"))
	})
}

// AddMemberRequest represents add member request body
type AddMemberRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// AddMember handles POST /api/orgs/:id/members
func (h *OrgHandler) AddMember(c *gin.Context) {
	user := GetUserFromContext(c)

	var req AddMemberRequest
	if !BindJSON(c, &req) {
		return
	}

	if err := h.svcMgr.Orgs.AddMember(c.Request.Context(), user, c.Param("id"), req.Email, req.Role); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{constants.FieldMessage: "Member added"})
}

// RemoveMember handles DELETE /api/orgs/:id/members/:userId
func (h *OrgHandler) RemoveMember(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleDeleteEnvelope(c, "Member removed", func() error {
		return h.svcMgr.Orgs.RemoveMember(c.Request.Context(), user, c.Param("id"), c.Param("userId"))
	})
}

// SwitchOrg handles POST /api/orgs/:id/switch. The response carries a new
// session minted for the target org.
func (h *OrgHandler) SwitchOrg(c *gin.Context) {
	user := GetUserFromContext(c)

	result, err := h.svcMgr.Orgs.SwitchActiveOrg(c.Request.Context(), user, c.Param("id"), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Active organization switched",
		"token":                result.Token,
		"expires_at":           result.ExpiresAt.Format(time.RFC3339),
	})
}
