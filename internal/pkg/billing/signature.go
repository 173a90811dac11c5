package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Webhook signature headers, shared by all external providers.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

const signatureVersionPrefix = "v1,"

var (
	// ErrMissingSignatureHeaders means at least one required header was absent.
	ErrMissingSignatureHeaders = errors.New("missing webhook signature headers")
	// ErrInvalidSignature means the signature did not verify. Terminal: the
	// provider only retries on 5xx, so this must map to 401, never 500.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// VerifySignature authenticates a raw webhook delivery. The expected
// signature is HMAC-SHA256 over "{id}.{timestamp}.{body}" with the shared
// secret, base64-encoded and prefixed with "v1,". Fails closed: missing
// headers, an unexpected version tag, or a length mismatch all reject
// before any byte comparison; the comparison itself is constant-time.
func VerifySignature(secret string, webhookID, timestamp, signatureHeader string, body []byte) error {
	if strings.TrimSpace(secret) == "" {
		return ErrInvalidSignature
	}
	id := strings.TrimSpace(webhookID)
	ts := strings.TrimSpace(timestamp)
	sig := strings.TrimSpace(signatureHeader)
	if id == "" || ts == "" || sig == "" {
		return ErrMissingSignatureHeaders
	}

	if !strings.HasPrefix(sig, signatureVersionPrefix) {
		return ErrInvalidSignature
	}
	provided, err := base64.StdEncoding.DecodeString(sig[len(signatureVersionPrefix):])
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// SignPayload computes the "v1,<base64>" signature for the given delivery.
// Used by tests and by the manual-event admin tooling.
func SignPayload(secret, webhookID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(webhookID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signatureVersionPrefix + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
