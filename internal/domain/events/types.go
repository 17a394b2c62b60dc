package events

// EventType identifies an outbox/event-bus event.
type EventType string

const (
	// InstanceRequested asks the provisioner to create the platform service
	InstanceRequested EventType = "instance.requested"
	// InstanceSuspend pauses a running instance (billing past_due)
	InstanceSuspend EventType = "instance.suspend"
	// InstanceResume restarts a suspended instance (invoice paid)
	InstanceResume EventType = "instance.resume"
	// InstanceDeprovision deletes the platform service
	InstanceDeprovision EventType = "instance.deprovision"
	// ConnectionCreated mirrors broker credentials into the tenant schema
	ConnectionCreated EventType = "connection.created"
	// ConnectionRevoked removes mirrored credentials
	ConnectionRevoked EventType = "connection.revoked"
	// SubscriptionChanged re-applies plan limits after a billing event
	SubscriptionChanged EventType = "subscription.changed"
)

// Payload is the envelope stored in the outbox. Exactly one of the ID
// fields is meaningful per event type; Data carries provider-specific JSON.
type Payload struct {
	OrgID        string                 `json:"org_id,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	InstanceID   string                 `json:"instance_id,omitempty"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}
