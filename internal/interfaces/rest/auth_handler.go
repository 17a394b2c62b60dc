package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
)

type AuthHandler struct {
	svcMgr *services.ServiceManager
}

func NewAuthHandler(svcMgr *services.ServiceManager) *AuthHandler {
	return &AuthHandler{
		svcMgr: svcMgr,
	}
}

// SignupRequest represents signup request body
type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionResponse is the shared shape for signup and login responses
type SessionResponse struct {
	Success   bool             `json:"success"`
	Token     string           `json:"token,omitempty"`
	User      auth.UserSession `json:"user,omitempty"`
	ExpiresAt string           `json:"expires_at,omitempty"`
}

// Signup handles POST /api/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if !BindJSON(c, &req) {
		return
	}

	result, err := h.svcMgr.Auth.Signup(c.Request.Context(), req.Name, req.Email, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{
		Success:   true,
		Token:     result.Token,
		User:      result.User,
		ExpiresAt: result.ExpiresAt.Format(time.RFC3339),
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !BindJSON(c, &req) {
		return
	}

	if !auth.IsValidEmail(req.Email) {
		RespondError(c, http.StatusBadRequest, "Invalid email format")
		return
	}

	result, err := h.svcMgr.Auth.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		Success:   true,
		Token:     result.Token,
		User:      result.User,
		ExpiresAt: result.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenString, exists := c.Get(constants.ContextKeyToken)
	if !exists {
		RespondError(c, http.StatusUnauthorized, "No token provided")
		return
	}

	if err := h.svcMgr.Auth.Logout(c.Request.Context(), tokenString.(string)); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: "Logged out"})
}

// GetMe handles GET /api/auth/me. Reads the user row rather than echoing
// token claims so an org switch on another device shows up here.
func (h *AuthHandler) GetMe(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondError(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	fresh, err := h.svcMgr.Auth.GetUserByID(c.Request.Context(), user.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": fresh})
}

// ChangePasswordRequest represents change password request body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondError(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req ChangePasswordRequest
	if !BindJSON(c, &req) {
		return
	}

	if err := h.svcMgr.Auth.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: "Password changed"})
}
