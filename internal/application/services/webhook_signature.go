package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance is the maximum clock skew accepted between the
// timestamp in a webhook signature and our wall clock.
const SignatureTolerance = 5 * time.Minute

// ComputeSignature builds the signed payload "<timestamp>.<body>" and
// returns its HMAC-SHA256 hex digest.
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWebhook renders a signature header value "t=<unix>,v1=<hex>".
// Used by tests and by outbound callbacks.
func SignWebhook(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(secret, timestamp, body))
}

// VerifyWebhookSignature validates a "t=<unix>,v1=<hex>" header against the
// raw request body. The timestamp must be within SignatureTolerance of now;
// any v1 entry matching the expected digest accepts the payload.
func VerifyWebhookSignature(secret, header string, body []byte, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestamp int64
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid signature timestamp")
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	expected := ComputeSignature(secret, timestamp, body)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}

	return fmt.Errorf("signature mismatch")
}
