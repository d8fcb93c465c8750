package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"cacp/internal/ports"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *TwilioAdapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewTwilioAdapter(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15550000001",
		BaseURL:    server.URL,
	})
	if err != nil {
		t.Fatalf("NewTwilioAdapter() error = %v", err)
	}
	return adapter
}

func TestTwilioExecuteSendsSMS(t *testing.T) {
	var gotForm url.Values
	var gotPath, gotIdempotency string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIdempotency = r.Header.Get("Idempotency-Key")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	})

	result, err := adapter.Execute(context.Background(), ports.SendRequest{
		Channel:        "sms",
		Target:         "+34600000001",
		Template:       "confirm_reminder_v2",
		PatientID:      "PAT-001",
		AppointmentID:  "APT-100",
		IdempotencyKey: "P1:0",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Provider != "twilio" || result.ProviderMessageID != "SM123" {
		t.Fatalf("result = %+v", result)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotForm.Get("To") != "+34600000001" || gotForm.Get("From") != "+15550000001" {
		t.Fatalf("form = %v", gotForm)
	}
	if gotForm.Get("Body") == "" {
		t.Fatal("empty message body")
	}
	if gotIdempotency != "P1:0" {
		t.Fatalf("idempotency key = %s", gotIdempotency)
	}
}

func TestTwilioExecutePrefixesWhatsApp(t *testing.T) {
	var gotForm url.Values
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM124"}`))
	})

	if _, err := adapter.Execute(context.Background(), ports.SendRequest{
		Channel:  "whatsapp",
		Target:   "+34600000001",
		Template: "urgency_short",
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotForm.Get("To") != "whatsapp:+34600000001" || gotForm.Get("From") != "whatsapp:+15550000001" {
		t.Fatalf("form = %v", gotForm)
	}
}

func TestTwilioExecuteErrors(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := adapter.Execute(context.Background(), ports.SendRequest{
		Channel:  "sms",
		Target:   "+34600000001",
		Template: "urgency_short",
	}); err == nil {
		t.Fatal("Execute() error = nil on 401")
	}

	if _, err := adapter.Execute(context.Background(), ports.SendRequest{
		Channel:  "sms",
		Target:   "+34600000001",
		Template: "not_a_template",
	}); err == nil {
		t.Fatal("Execute() error = nil for unknown template")
	}
}

func TestValidateTwilioSignature(t *testing.T) {
	const authToken = "12345"
	requestURL := "https://example.test/webhooks/twilio?appointment_id=APT-100"
	params := url.Values{}
	params.Set("From", "+34600000001")
	params.Set("Body", "YES")
	params.Set("MessageSid", "SM123")

	// Build the expected signature the way Twilio documents it.
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(requestURL + "BodyYES" + "From+34600000001" + "MessageSidSM123"))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ValidateTwilioSignature(authToken, requestURL, params, signature) {
		t.Fatal("valid signature rejected")
	}
	if ValidateTwilioSignature(authToken, requestURL, params, "bogus") {
		t.Fatal("bogus signature accepted")
	}
	if ValidateTwilioSignature("other-token", requestURL, params, signature) {
		t.Fatal("signature accepted under wrong token")
	}

	params.Set("Body", "NO")
	if ValidateTwilioSignature(authToken, requestURL, params, signature) {
		t.Fatal("signature accepted after parameter tampering")
	}
}
