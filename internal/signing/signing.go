// Package signing implements canonical JSON serialization and HMAC-SHA256
// sign/verify for proposal payloads and inbound webhook bodies.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"cacp/internal/domain/plan"
	"cacp/internal/errs"
)

// SignatureField is excluded from the canonical bytes under digest so a
// payload can carry its own signature.
const SignatureField = "hmac_signature"

// Canonicalize produces the deterministic byte encoding of a payload:
// object keys sorted lexicographically at every level, no insignificant
// whitespace, excluded keys removed from the top level.
func Canonicalize(payload map[string]any, exclude ...string) ([]byte, error) {
	if len(exclude) > 0 {
		filtered := make(map[string]any, len(payload))
		for k, v := range payload {
			filtered[k] = v
		}
		for _, key := range exclude {
			delete(filtered, key)
		}
		payload = filtered
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, errs.Wrap(plan.ErrInvalidPayload, "encode payload")
	}
	// Encoder appends a newline that is not part of the canonical form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the hex HMAC-SHA256 digest over the canonical bytes of
// payload, excluding any embedded signature. An empty secret fails closed.
func Sign(payload map[string]any, secret string) (string, error) {
	if secret == "" {
		return "", plan.ErrMissingSigningKey
	}

	canonical, err := Canonicalize(payload, SignatureField)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the payload signature and compares it in constant time
// against the embedded hmac_signature field. A missing or empty embedded
// signature never verifies.
func Verify(payload map[string]any, secret string) bool {
	embedded, _ := payload[SignatureField].(string)
	if embedded == "" {
		return false
	}

	computed, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(computed), []byte(embedded))
}

// HashPII maps personal data such as phone numbers to a stable 16 hex
// character token safe to write to logs.
func HashPII(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}

// SignBody computes the delivery-level signature over exact raw bytes, in
// the provider's documented header format.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody validates a raw delivery body against its header signature.
// Verification runs on the bytes as received, before any JSON parsing.
func VerifyBody(secret string, body []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(strings.ToLower(sig), prefix) {
		return false
	}
	decoded, err := hex.DecodeString(sig[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
