package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/cache"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/mailer"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
	"github.com/flowdesk/backend/pkg/utils"
)

// AuthService handles signup, authentication, session management, and
// password operations.
type AuthService struct {
	db        *database.PostgresConnection
	users     *persistence.UserRepository
	sessions  *persistence.SessionRepository
	orgs      *persistence.OrgRepository
	subs      *persistence.SubscriptionRepository
	tenants   *persistence.TenantSchemaOps
	txManager *persistence.TransactionManager
	cache     *cache.RedisCache
	mailer    mailer.Mailer
}

// NewAuthService creates a new AuthService
func NewAuthService(
	db *database.PostgresConnection,
	txManager *persistence.TransactionManager,
	redisCache *cache.RedisCache,
	mail mailer.Mailer,
) *AuthService {
	return &AuthService{
		db:        db,
		users:     persistence.NewUserRepository(db.DB()),
		sessions:  persistence.NewSessionRepository(db.DB()),
		orgs:      persistence.NewOrgRepository(db.DB()),
		subs:      persistence.NewSubscriptionRepository(db.DB()),
		tenants:   persistence.NewTenantSchemaOps(db.DB()),
		txManager: txManager,
		cache:     redisCache,
		mailer:    mail,
	}
}

// LoginResult contains the result of a successful login
type LoginResult struct {
	Token     string
	User      auth.UserSession
	ExpiresAt time.Time
}

// Signup registers a new user. The user, their personal organization, the
// org membership, and a free subscription are created in one transaction;
// the tenant schema is created afterwards and the welcome email goes out
// asynchronously. Returns a logged-in session.
func (s *AuthService) Signup(ctx context.Context, name, email, password, ip, userAgent string) (*LoginResult, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "Name is required")
	}
	if !auth.IsValidEmail(email) {
		return nil, errors.NewValidationError("email", "Invalid email address")
	}
	if err := auth.ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if exists {
		return nil, errors.NewConflictError("User", "email", email)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           utils.GenerateID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	org := &models.Organization{
		ID:      utils.GenerateID(),
		Name:    fmt.Sprintf("%s's Workspace", name),
		OwnerID: user.ID,
	}
	user.ActiveOrgID = sql.NullString{String: org.ID, Valid: true}

	err = s.txManager.WithTransaction(func(tx *sql.Tx) error {
		if err := s.users.Insert(ctx, tx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := s.orgs.Insert(ctx, tx, org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		member := &models.OrgMember{OrgID: org.ID, UserID: user.ID, Role: constants.RoleOwner}
		if err := s.orgs.AddMember(ctx, tx, member); err != nil {
			return fmt.Errorf("failed to add org membership: %w", err)
		}
		sub := &models.Subscription{
			ID:     utils.GenerateID(),
			OrgID:  org.ID,
			PlanID: constants.PlanFree,
			Status: constants.SubscriptionActive,
		}
		if err := s.subs.Insert(ctx, tx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Tenant DDL is idempotent and retried on next login if this fails
	if _, err := s.tenants.EnsureTenantSchema(ctx, user.ID); err != nil {
		log.Printf("⚠️ Tenant schema creation failed for %s: %v", user.ID, err)
	}

	if s.mailer != nil {
		go func() {
			if err := s.mailer.SendWelcome(email, name); err != nil {
				log.Printf("⚠️ Failed to send welcome email to %s: %v", email, err)
			}
		}()
	}

	log.Printf("✅ User signed up: %s (%s)", email, user.ID)
	return s.createSession(ctx, user, ip, userAgent)
}

// Login authenticates a user and creates a session
func (s *AuthService) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		log.Printf("⚠️ Login failed for %s: user not found", email)
		return nil, errors.NewUnauthorizedError("Invalid email or password")
	}

	if !auth.VerifyPassword(password, user.PasswordHash) {
		log.Printf("⚠️ Login failed for %s: invalid password", email)
		return nil, errors.NewUnauthorizedError("Invalid email or password")
	}

	// Self-heal the tenant schema if signup was interrupted
	if exists, err := s.tenants.SchemaExists(ctx, user.ID); err == nil && !exists {
		if _, err := s.tenants.EnsureTenantSchema(ctx, user.ID); err != nil {
			log.Printf("⚠️ Tenant schema repair failed for %s: %v", user.ID, err)
		}
	}

	return s.createSession(ctx, user, ip, userAgent)
}

// createSession mints a JWT and persists the matching session row
func (s *AuthService) createSession(ctx context.Context, user *models.User, ip, userAgent string) (*LoginResult, error) {
	userSession := auth.UserSession{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		ActiveOrgID: user.ActiveOrgID.String,
		IsAdmin:     user.IsAdmin,
	}

	token, err := auth.GenerateToken(userSession)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	claims, err := auth.DecodeToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode issued token: %w", err)
	}
	expiresAt := claims.ExpiresAt.Time

	session := &models.Session{
		ID:           claims.RegisteredClaims.ID,
		UserID:       user.ID,
		Token:        token,
		ExpiresAt:    expiresAt,
		IPAddress:    ip,
		UserAgent:    userAgent,
		LastActivity: time.Now(),
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.cache.CacheSessionValid(ctx, session.ID)

	return &LoginResult{
		Token:     token,
		User:      userSession,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession checks a token's signature and its session row. Redis
// answers the revocation check when it can; the database is the fallback
// and the source of truth.
func (s *AuthService) ValidateSession(ctx context.Context, tokenString string) (*auth.Claims, error) {
	claims, err := auth.ValidateToken(tokenString)
	if err != nil {
		return nil, errors.NewUnauthorizedError("Invalid or expired token")
	}

	sessionID := claims.RegisteredClaims.ID

	if revoked, known := s.cache.IsSessionRevoked(ctx, sessionID); known {
		if revoked {
			return nil, errors.NewUnauthorizedError("Session has been revoked")
		}
		return claims, nil
	}

	revoked, err := s.sessions.IsRevoked(ctx, sessionID)
	if err == sql.ErrNoRows {
		return nil, errors.NewUnauthorizedError("Session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if revoked {
		s.cache.MarkSessionRevoked(ctx, sessionID)
		return nil, errors.NewUnauthorizedError("Session has been revoked")
	}

	s.cache.CacheSessionValid(ctx, sessionID)
	return claims, nil
}

// TouchSession updates the last activity timestamp for a session.
// Fire and forget; activity timestamps are not critical.
func (s *AuthService) TouchSession(sessionID string) {
	go func() {
		if err := s.sessions.Touch(context.Background(), sessionID); err != nil {
			log.Printf("⚠️ Failed to touch session %s: %v", sessionID, err)
		}
	}()
}

// Logout revokes a session
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := auth.DecodeToken(tokenString)
	if err != nil {
		return errors.NewValidationError("token", "Invalid token")
	}

	sessionID := claims.RegisteredClaims.ID
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.cache.MarkSessionRevoked(ctx, sessionID)

	log.Printf("👋 User logged out: %s (Session: %s)", claims.RegisteredClaims.Subject, sessionID)
	return nil
}

// ChangePassword updates a user's password after verifying the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := auth.ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to retrieve user: %w", err)
	}
	if user == nil {
		return errors.NewNotFoundError("User", userID)
	}

	if !auth.VerifyPassword(currentPassword, user.PasswordHash) {
		return errors.NewUnauthorizedError("Current password is incorrect")
	}

	newHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}
	log.Printf("🔐 Password changed for user: %s", userID)
	return nil
}

// GetUserByID retrieves a user session object by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*auth.UserSession, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User", userID)
	}

	return &auth.UserSession{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		ActiveOrgID: user.ActiveOrgID.String,
		IsAdmin:     user.IsAdmin,
	}, nil
}

// PurgeExpiredSessions removes sessions past expiry. Called by the scheduler.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, time.Now())
}
