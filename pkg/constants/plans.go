package constants

// Plan identifiers. Plan rows are seeded at bootstrap; these IDs are stable
// references used by limit checks and the billing webhook mapping.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// Subscription statuses, mirroring the billing provider's lifecycle.
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Organization member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Scheduler cadence and guard rails.
const (
	ScheduleCheckIntervalSecs = 60
	ScheduleMaxRuntimeMins    = 10
)
