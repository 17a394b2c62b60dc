package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"invoice.paid","data":{"subscription":"sub_123"}}`)
	now := time.Unix(1700000000, 0)

	t.Run("valid signature accepted", func(t *testing.T) {
		header := SignWebhook(secret, now.Unix(), body)
		require.NoError(t, VerifyWebhookSignature(secret, header, body, now))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		header := SignWebhook("whsec_other", now.Unix(), body)
		err := VerifyWebhookSignature(secret, header, body, now)
		assert.ErrorContains(t, err, "signature mismatch")
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		header := SignWebhook(secret, now.Unix(), body)
		err := VerifyWebhookSignature(secret, header, []byte(`{"type":"invoice.paid","data":{"subscription":"sub_999"}}`), now)
		assert.ErrorContains(t, err, "signature mismatch")
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		old := now.Add(-6 * time.Minute)
		header := SignWebhook(secret, old.Unix(), body)
		err := VerifyWebhookSignature(secret, header, body, now)
		assert.ErrorContains(t, err, "tolerance")
	})

	t.Run("future timestamp rejected", func(t *testing.T) {
		future := now.Add(6 * time.Minute)
		header := SignWebhook(secret, future.Unix(), body)
		err := VerifyWebhookSignature(secret, header, body, now)
		assert.ErrorContains(t, err, "tolerance")
	})

	t.Run("slight skew accepted", func(t *testing.T) {
		skewed := now.Add(-2 * time.Minute)
		header := SignWebhook(secret, skewed.Unix(), body)
		require.NoError(t, VerifyWebhookSignature(secret, header, body, now))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		err := VerifyWebhookSignature(secret, "", body, now)
		assert.ErrorContains(t, err, "missing")
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		err := VerifyWebhookSignature(secret, "garbage", body, now)
		assert.ErrorContains(t, err, "malformed")
	})

	t.Run("second v1 entry accepted during secret rotation", func(t *testing.T) {
		oldSig := ComputeSignature("whsec_retired", now.Unix(), body)
		newSig := ComputeSignature(secret, now.Unix(), body)
		header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), oldSig, newSig)
		require.NoError(t, VerifyWebhookSignature(secret, header, body, now))
	})
}
