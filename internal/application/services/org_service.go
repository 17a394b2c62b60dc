package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/mailer"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
	"github.com/flowdesk/backend/pkg/utils"
)

// OrgService manages organizations and their memberships
type OrgService struct {
	db        *database.PostgresConnection
	orgs      *persistence.OrgRepository
	users     *persistence.UserRepository
	subs      *persistence.SubscriptionRepository
	txManager *persistence.TransactionManager
	auth      *AuthService
	mailer    mailer.Mailer
}

// NewOrgService creates a new OrgService
func NewOrgService(db *database.PostgresConnection, txManager *persistence.TransactionManager, mail mailer.Mailer, authSvc *AuthService) *OrgService {
	return &OrgService{
		db:        db,
		orgs:      persistence.NewOrgRepository(db.DB()),
		users:     persistence.NewUserRepository(db.DB()),
		subs:      persistence.NewSubscriptionRepository(db.DB()),
		txManager: txManager,
		auth:      authSvc,
		mailer:    mail,
	}
}

// CreateOrg creates an organization with the caller as owner and a free
// subscription, all in one transaction.
func (s *OrgService) CreateOrg(ctx context.Context, user *auth.UserSession, name string) (*models.Organization, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "Organization name is required")
	}

	org := &models.Organization{
		ID:      utils.GenerateID(),
		Name:    name,
		OwnerID: user.ID,
	}

	err := s.txManager.WithTransaction(func(tx *sql.Tx) error {
		if err := s.orgs.Insert(ctx, tx, org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		member := &models.OrgMember{OrgID: org.ID, UserID: user.ID, Role: constants.RoleOwner}
		if err := s.orgs.AddMember(ctx, tx, member); err != nil {
			return fmt.Errorf("failed to add owner membership: %w", err)
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

	log.Printf("✅ Organization created: %s (%s) by %s", org.Name, org.ID, user.Email)
	return org, nil
}

// GetOrg returns an organization the caller belongs to
func (s *OrgService) GetOrg(ctx context.Context, user *auth.UserSession, orgID string) (*models.Organization, error) {
	if _, err := s.RequireMember(ctx, user, orgID); err != nil {
		return nil, err
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, errors.NewNotFoundError("Organization", orgID)
	}
	return org, nil
}

// ListOrgs returns the organizations the user is a member of
func (s *OrgService) ListOrgs(ctx context.Context, userID string) ([]models.Organization, error) {
	return s.orgs.ListByUser(ctx, userID)
}

// ListMembers returns the members of an organization the caller belongs to
func (s *OrgService) ListMembers(ctx context.Context, user *auth.UserSession, orgID string) ([]models.OrgMember, error) {
	if _, err := s.RequireMember(ctx, user, orgID); err != nil {
		return nil, err
	}
	return s.orgs.ListMembers(ctx, orgID)
}

// AddMember adds an existing user to the organization by email. The caller
// must be owner or admin. Owners cannot be added twice; the unique key on
// the membership table backs that up.
func (s *OrgService) AddMember(ctx context.Context, actor *auth.UserSession, orgID, email, role string) error {
	if err := s.RequireAdmin(ctx, actor, orgID); err != nil {
		return err
	}
	if role != constants.RoleAdmin && role != constants.RoleMember {
		return errors.NewValidationError("role", "Role must be admin or member")
	}

	target, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if target == nil {
		return errors.NewNotFoundError("User", email)
	}

	existing, err := s.orgs.GetMemberRole(ctx, orgID, target.ID)
	if err != nil {
		return err
	}
	if existing != "" {
		return errors.NewConflictError("Membership", "user", email)
	}

	member := &models.OrgMember{OrgID: orgID, UserID: target.ID, Role: role}
	if err := s.orgs.AddMember(ctx, s.db.DB(), member); err != nil {
		return err
	}

	org, _ := s.orgs.GetByID(ctx, orgID)
	if s.mailer != nil && org != nil {
		go func() {
			if err := s.mailer.SendInvite(email, org.Name, actor.Name); err != nil {
				log.Printf("⚠️ Failed to send invite email to %s: %v", email, err)
			}
		}()
	}

	log.Printf("✅ Member added to org %s: %s as %s", orgID, email, role)
	return nil
}

// RemoveMember removes a user from the organization. Owners cannot be
// removed; ownership transfer is a separate concern.
func (s *OrgService) RemoveMember(ctx context.Context, actor *auth.UserSession, orgID, userID string) error {
	if err := s.RequireAdmin(ctx, actor, orgID); err != nil {
		return err
	}

	role, err := s.orgs.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return errors.NewNotFoundError("Membership", userID)
	}
	if role == constants.RoleOwner {
		return errors.NewValidationError("user_id", "The organization owner cannot be removed")
	}

	if err := s.orgs.RemoveMember(ctx, orgID, userID); err != nil {
		return err
	}
	log.Printf("✅ Member removed from org %s: %s", orgID, userID)
	return nil
}

// SwitchActiveOrg sets the user's active organization and issues a fresh
// session for it. The new token gets its own session row so it survives
// validation; the previous session stays valid for other devices.
func (s *OrgService) SwitchActiveOrg(ctx context.Context, user *auth.UserSession, orgID, ip, userAgent string) (*LoginResult, error) {
	if _, err := s.RequireMember(ctx, user, orgID); err != nil {
		return nil, err
	}

	if err := s.users.UpdateActiveOrg(ctx, user.ID, orgID); err != nil {
		return nil, err
	}

	switched, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if switched == nil {
		return nil, errors.NewNotFoundError("User", user.ID)
	}

	result, err := s.auth.createSession(ctx, switched, ip, userAgent)
	if err != nil {
		return nil, err
	}

	log.Printf("🔄 User %s switched active org to %s", user.Email, orgID)
	return result, nil
}

// RequireMember returns the caller's role in the org, or a permission error
func (s *OrgService) RequireMember(ctx context.Context, user *auth.UserSession, orgID string) (string, error) {
	role, err := s.orgs.GetMemberRole(ctx, orgID, user.ID)
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}
	if role == "" {
		return "", errors.NewPermissionError("access", "organization")
	}
	return role, nil
}

// RequireAdmin errors unless the caller is owner or admin of the org
func (s *OrgService) RequireAdmin(ctx context.Context, user *auth.UserSession, orgID string) error {
	role, err := s.RequireMember(ctx, user, orgID)
	if err != nil {
		return err
	}
	if role != constants.RoleOwner && role != constants.RoleAdmin {
		return errors.NewPermissionError("manage", "organization")
	}
	return nil
}
