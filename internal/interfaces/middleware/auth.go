package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
)

// RequireAuth validates the bearer token and its session row, then stores
// the user session on the context.
func RequireAuth(authSvc *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			abortUnauthorized(c, "No authorization token provided")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "Invalid authorization header format")
			return
		}
		tokenString := parts[1]

		claims, err := authSvc.ValidateSession(c.Request.Context(), tokenString)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		// Update last activity (fire and forget)
		authSvc.TouchSession(claims.RegisteredClaims.ID)

		c.Set(constants.ContextKeyUser, claims.User)
		c.Set(constants.ContextKeyToken, tokenString)

		c.Next()
	}
}

// RequirePlatformAdmin rejects callers that are not platform operators
func RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userInterface, exists := c.Get(constants.ContextKeyUser)
		if !exists {
			abortUnauthorized(c, "User not authenticated")
			return
		}

		user := userInterface.(auth.UserSession)
		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				constants.ResponseError: "Forbidden",
				constants.FieldMessage:  "Only platform administrators can access this resource",
				"code":                  "FORBIDDEN",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireActiveOrg rejects callers whose token carries no active org.
// Every org-scoped route sits behind this.
func RequireActiveOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		userInterface, exists := c.Get(constants.ContextKeyUser)
		if !exists {
			abortUnauthorized(c, "User not authenticated")
			return
		}

		user := userInterface.(auth.UserSession)
		if user.ActiveOrgID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				constants.ResponseError: "Bad Request",
				constants.FieldMessage:  "No active organization selected",
				"code":                  "NO_ACTIVE_ORG",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		constants.ResponseError: "Unauthorized",
		constants.FieldMessage:  message,
		"code":                  "UNAUTHORIZED",
		"data":                  nil,
	})
	c.Abort()
}
