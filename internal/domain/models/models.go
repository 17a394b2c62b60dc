package models

import (
	"database/sql"
	"time"

	"github.com/flowdesk/backend/internal/domain"
)

// User is a control-plane account. Every user owns a tenant schema named
// tenant_<id> that holds their memory entries and mirrored credentials.
type User struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	PasswordHash     string         `json:"-"`
	ActiveOrgID      sql.NullString `json:"-"`
	IsAdmin          bool           `json:"is_admin"`
	CreatedDate      time.Time      `json:"created_date"`
	LastModifiedDate time.Time      `json:"last_modified_date"`
}

// Session is a server-side login session. ID equals the JWT JTI so a token
// maps directly to its row.
type Session struct {
	ID               string
	UserID           string
	Token            string
	ExpiresAt        time.Time
	IPAddress        string
	UserAgent        string
	IsRevoked        bool
	LastActivity     time.Time
	CreatedDate      time.Time
	LastModifiedDate time.Time
}

// Organization is the tenant unit for billing, integrations and instances.
type Organization struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OwnerID          string    `json:"owner_id"`
	CreatedDate      time.Time `json:"created_date"`
	LastModifiedDate time.Time `json:"last_modified_date"`
}

// OrgMember links a user to an organization with a role (owner/admin/member).
type OrgMember struct {
	OrgID       string    `json:"org_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	CreatedDate time.Time `json:"created_date"`
}

// Plan is a subscription tier with its limits. Rows are seeded at bootstrap.
type Plan struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MaxConnections   int    `json:"max_connections"`
	MaxMemoryEntries int    `json:"max_memory_entries"`
	MaxInstances     int    `json:"max_instances"`
	InstanceTier     string `json:"instance_tier"`
}

// Subscription is the billing state of an organization. ExternalRef is the
// billing provider's subscription ID and drives webhook idempotency.
type Subscription struct {
	ID               string         `json:"id"`
	OrgID            string         `json:"org_id"`
	PlanID           string         `json:"plan_id"`
	Status           string         `json:"status"`
	ExternalRef      sql.NullString `json:"-"`
	PeriodEnd        sql.NullTime   `json:"-"`
	CreatedDate      time.Time      `json:"created_date"`
	LastModifiedDate time.Time      `json:"last_modified_date"`
}

// Connection is a third-party OAuth connection brokered by the hosted
// connector service. BrokerConnectionID is the broker's identifier; the
// credential payload itself is mirrored into the tenant schema, never here.
type Connection struct {
	ID                 string    `json:"id"`
	OrgID              string    `json:"org_id"`
	UserID             string    `json:"user_id"`
	Provider           string    `json:"provider"`
	BrokerConnectionID string    `json:"broker_connection_id"`
	EventFilter        string    `json:"event_filter,omitempty"`
	Status             string    `json:"status"`
	CreatedDate        time.Time `json:"created_date"`
	LastModifiedDate   time.Time `json:"last_modified_date"`
}

// Instance is a per-org workflow-automation instance on the cloud platform.
type Instance struct {
	ID                string               `json:"id"`
	OrgID             string               `json:"org_id"`
	Tier              string               `json:"tier"`
	State             domain.InstanceState `json:"state"`
	PlatformServiceID sql.NullString       `json:"-"`
	URL               sql.NullString       `json:"-"`
	LastError         sql.NullString       `json:"-"`
	CreatedDate       time.Time            `json:"created_date"`
	LastModifiedDate  time.Time            `json:"last_modified_date"`
}

// MemoryEntry is a row in the tenant's memory_entries table. Embedding is
// only populated on insert; reads skip the vector column.
type MemoryEntry struct {
	ID          string                 `json:"id"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Distance    float64                `json:"distance,omitempty"` // populated by search
	CreatedDate time.Time              `json:"created_date"`
}

// SocialCredential is a credential payload mirrored into the tenant schema
// so the tenant's instance can read it without control-plane access.
type SocialCredential struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Payload     string    `json:"-"` // raw JSON from the broker
	CreatedDate time.Time `json:"created_date"`
}
