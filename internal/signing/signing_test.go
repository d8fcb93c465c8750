package signing

import (
	"errors"
	"strings"
	"testing"

	"cacp/internal/domain/plan"
)

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	payload := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": 2, "a": 1},
		"mid":   []any{"x", "y"},
	}

	got, err := Canonicalize(payload)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	want := `{"alpha":{"a":1,"b":2},"mid":["x","y"],"zeta":1}`
	if string(got) != want {
		t.Fatalf("Canonicalize() = %s, want %s", got, want)
	}
}

func TestCanonicalizeExcludesSignatureField(t *testing.T) {
	payload := map[string]any{
		"plan_id":      "P1",
		SignatureField: "deadbeef",
	}

	got, err := Canonicalize(payload, SignatureField)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if strings.Contains(string(got), "deadbeef") {
		t.Fatalf("Canonicalize() = %s, signature field not excluded", got)
	}
	if _, ok := payload[SignatureField]; !ok {
		t.Fatal("Canonicalize() mutated the input payload")
	}
}

func TestCanonicalizeRejectsUnserializableValue(t *testing.T) {
	payload := map[string]any{"bad": make(chan int)}

	if _, err := Canonicalize(payload); !errors.Is(err, plan.ErrInvalidPayload) {
		t.Fatalf("Canonicalize() error = %v, want ErrInvalidPayload", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := map[string]any{
		"plan_id":   "P1",
		"clinic_id": "CLINIC-1",
		"actions":   []any{map[string]any{"action_type": "send_reminder"}},
	}

	sig, err := Sign(payload, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if sig == "" {
		t.Fatal("Sign() returned empty signature")
	}

	payload[SignatureField] = sig
	if !Verify(payload, "secret") {
		t.Fatal("Verify() = false immediately after Sign()")
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	payload := map[string]any{"plan_id": "P1", "risk_level": "high"}

	sig, err := Sign(payload, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	payload[SignatureField] = sig

	payload["risk_level"] = "low"
	if Verify(payload, "secret") {
		t.Fatal("Verify() = true after payload mutation")
	}
}

func TestVerifyRejectsMissingSignatureAndWrongKey(t *testing.T) {
	payload := map[string]any{"plan_id": "P1"}
	if Verify(payload, "secret") {
		t.Fatal("Verify() = true with no embedded signature")
	}

	sig, err := Sign(payload, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	payload[SignatureField] = sig
	if Verify(payload, "other-secret") {
		t.Fatal("Verify() = true under a different key")
	}
}

func TestSignFailsClosedWithoutKey(t *testing.T) {
	if _, err := Sign(map[string]any{"plan_id": "P1"}, ""); !errors.Is(err, plan.ErrMissingSigningKey) {
		t.Fatalf("Sign() error = %v, want ErrMissingSigningKey", err)
	}
}

func TestVerifyBodyRawBytes(t *testing.T) {
	body := []byte(`{"action":"closed","pull_request":{"merged":true}}`)
	header := SignBody("hook-secret", body)

	if !VerifyBody("hook-secret", body, header) {
		t.Fatal("VerifyBody() = false for matching signature")
	}
	if VerifyBody("hook-secret", append([]byte(" "), body...), header) {
		t.Fatal("VerifyBody() = true for different raw bytes")
	}
	if VerifyBody("hook-secret", body, "") {
		t.Fatal("VerifyBody() = true for missing header")
	}
	if VerifyBody("hook-secret", body, "sha256=zzzz") {
		t.Fatal("VerifyBody() = true for undecodable digest")
	}
	if VerifyBody("", body, header) {
		t.Fatal("VerifyBody() = true with empty secret")
	}
}

func TestHashPII(t *testing.T) {
	token := HashPII("+34600000001")
	if len(token) != 16 {
		t.Fatalf("len(HashPII()) = %d, want 16", len(token))
	}
	if token != HashPII("+34600000001") {
		t.Fatal("HashPII() is not deterministic")
	}
	if token == HashPII("+34600000002") {
		t.Fatal("HashPII() collides for different inputs")
	}
}
