package constants

// Common column names shared across repositories. Queries are assembled
// with fmt.Sprintf over these constants so a rename happens in one place.
const (
	FieldID               = "id"
	FieldEmail            = "email"
	FieldName             = "name"
	FieldPassword         = "password_hash"
	FieldRole             = "role"
	FieldStatus           = "status"
	FieldOrgID            = "org_id"
	FieldUserID           = "user_id"
	FieldActiveOrgID      = "active_org_id"
	FieldIsAdmin          = "is_admin"
	FieldIsRevoked        = "is_revoked"
	FieldExpiresAt        = "expires_at"
	FieldLastActivity     = "last_activity"
	FieldCreatedDate      = "created_date"
	FieldLastModifiedDate = "last_modified_date"
)
