package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
	"cacp/internal/ports"
	"cacp/internal/signing"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	BaseURL      string
	Timeout      time.Duration
	ResolvePhone func(patientID string) (string, error)
}

// TwilioAdapter sends SMS and WhatsApp messages through the Twilio REST
// API. The adapter resolves the template to body text itself; the rail
// engine only decides whether a send may happen.
type TwilioAdapter struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioAdapter(cfg TwilioConfig) (*TwilioAdapter, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, errors.New("twilio account sid, auth token and from number are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TwilioAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

var messageBodies = map[string]string{
	"confirm_reminder_v2": "Reminder: you have an upcoming appointment. Reply YES to confirm.",
	"urgency_short":       "Your appointment is coming up soon. Please confirm you can make it.",
	"reschedule_offer":    "Can't make your appointment? Reply RESCHEDULE and we'll find a new slot.",
}

func (a *TwilioAdapter) Execute(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	target := req.Target
	if a.cfg.ResolvePhone != nil {
		resolved, err := a.cfg.ResolvePhone(req.PatientID)
		if err != nil {
			return ports.SendResult{}, errs.Wrap(err, "resolve patient phone")
		}
		target = resolved
	}

	body, ok := messageBodies[req.Template]
	if !ok {
		return ports.SendResult{}, fmt.Errorf("unknown template %q", req.Template)
	}

	from := a.cfg.FromNumber
	to := target
	if strings.EqualFold(req.Channel, "whatsapp") {
		from = "whatsapp:" + from
		to = "whatsapp:" + to
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.cfg.BaseURL, a.cfg.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.SendResult{}, errs.Wrap(err, "build twilio request")
	}
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Twilio dedupes retried sends on this key.
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return ports.SendResult{}, errs.Wrap(err, "call twilio")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.SendResult{}, fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.SendResult{}, errs.Wrap(err, "decode twilio response")
	}

	// Phone numbers never reach the log; only their hashed token does.
	logging.Info(ctx, "twilio message sent",
		slog.String("channel", req.Channel),
		slog.String("template", req.Template),
		slog.String("to_hash", signing.HashPII(target)),
		slog.String("message_sid", parsed.SID))
	return ports.SendResult{Provider: "twilio", ProviderMessageID: parsed.SID}, nil
}

// ValidateTwilioSignature checks the X-Twilio-Signature header of an
// inbound webhook: HMAC-SHA1 over the full request URL concatenated with
// the form parameters sorted by key, base64 encoded.
func ValidateTwilioSignature(authToken, requestURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(requestURL)
	for _, key := range keys {
		for _, value := range params[key] {
			builder.WriteString(key)
			builder.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(builder.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
