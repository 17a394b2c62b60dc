package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/constants"
)

type MemoryHandler struct {
	svcMgr *services.ServiceManager
}

func NewMemoryHandler(svcMgr *services.ServiceManager) *MemoryHandler {
	return &MemoryHandler{
		svcMgr: svcMgr,
	}
}

// AddMemoryRequest represents add memory request body
type AddMemoryRequest struct {
	Content  string                 `json:"content" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AddMemory handles POST /api/memory
func (h *MemoryHandler) AddMemory(c *gin.Context) {
	user := GetUserFromContext(c)

	var req AddMemoryRequest
	if !BindJSON(c, &req) {
		return
	}

	entry, err := h.svcMgr.Memory.AddMemory(c.Request.Context(), user, req.Content, req.Metadata)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		constants.FieldMessage: "Memory entry stored",
		"entry":                entry,
	})
}

// SearchMemoryRequest represents search request body
type SearchMemoryRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// SearchMemory handles POST /api/memory/search
func (h *MemoryHandler) SearchMemory(c *gin.Context) {
	user := GetUserFromContext(c)

	var req SearchMemoryRequest
	if !BindJSON(c, &req) {
		return
	}

	HandleGetEnvelope(c, "entries", func() (interface{}, error) {
		return h.svcMgr.Memory.SearchMemory(c.Request.Context(), user, req.Query, req.Limit)
	})
}

// ListMemory handles GET /api/memory
func (h *MemoryHandler) ListMemory(c *gin.Context) {
	user := GetUserFromContext(c)
	limit, _ := strconv.Atoi(c.Query("limit"))

	HandleGetEnvelope(c, "entries", func() (interface{}, error) {
		return h.svcMgr.Memory.ListMemory(c.Request.Context(), user, limit)
	})
}

// DeleteMemory handles DELETE /api/memory/:id
func (h *MemoryHandler) DeleteMemory(c *gin.Context) {
	user := GetUserFromContext(c)

	HandleDeleteEnvelope(c, "Memory entry deleted", func() error {
		return h.svcMgr.Memory.DeleteMemory(c.Request.Context(), user, c.Param("id"))
	})
}
