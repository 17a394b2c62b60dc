package constants

// Control-plane tables live in the public schema. Tenant tables live in a
// per-tenant schema (see TenantSchemaPrefix) and are always referenced with
// an explicit schema qualifier.
const (
	TableUser         = "users"
	TableSession      = "sessions"
	TableOrganization = "organizations"
	TableOrgMember    = "organization_members"
	TablePlan         = "plans"
	TableSubscription = "subscriptions"
	TableConnection   = "connections"
	TableInstance     = "instances"
	TableOutboxEvent  = "outbox_events"
)

// Tenant schema naming and tenant-scoped tables.
const (
	TenantSchemaPrefix     = "tenant_"
	TenantTableMemory      = "memory_entries"
	TenantTableCredentials = "social_credentials"
)

// EmbeddingDimension is the vector width of memory embeddings. It matches
// the OpenAI-compatible embedding models served by OpenRouter and Ollama.
const EmbeddingDimension = 1536
