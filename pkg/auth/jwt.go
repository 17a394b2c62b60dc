package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowdesk/backend/pkg/utils"
)

// UserSession is the user identity embedded in every JWT. ActiveOrgID is the
// organization the token was minted for; switching orgs issues a new token.
type UserSession struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	ActiveOrgID string `json:"active_org_id"`
	IsAdmin     bool   `json:"is_admin"` // platform operator, not org admin
}

// Claims represents JWT claims
type Claims struct {
	User UserSession `json:"user"`
	jwt.RegisteredClaims
}

// TokenTTL is how long issued tokens stay valid. The session row expires at
// the same moment, so revocation checks stay consistent with the claim.
const TokenTTL = 24 * time.Hour

var jwtSecret = []byte(getJWTSecret())

func getJWTSecret() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-secret-change-in-production"
	}
	return secret
}

// GenerateToken creates a signed JWT for a user session. The JTI doubles as
// the session row ID.
func GenerateToken(session UserSession) (string, error) {
	now := time.Now()
	claims := &Claims{
		User: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Email,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        utils.GenerateID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken validates and parses a JWT token
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// DecodeToken decodes a token without validation (for extracting the JTI on
// logout, where an expired token must still identify its session)
func DecodeToken(tokenString string) (*Claims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
