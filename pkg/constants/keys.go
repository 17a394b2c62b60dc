package constants

// Gin context keys and HTTP header names.
const (
	ContextKeyUser  = "user"
	ContextKeyToken = "token"

	HeaderAuthorization = "Authorization"

	// Webhook signature headers. Both the billing provider and the
	// connector broker sign payloads with HMAC-SHA256 over
	// "<timestamp>.<body>" and send "t=<unix>,v1=<hex>".
	HeaderBillingSignature = "X-Billing-Signature"
	HeaderBrokerSignature  = "X-Broker-Signature"
)

// Response envelope keys.
const (
	ResponseError = "error"
	FieldMessage  = "message"
)
