package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	corepolicy "cacp/internal/policy"
)

func TestEvaluateAllow(t *testing.T) {
	var gotInput corepolicy.Input
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/data/clinic/policy" {
			t.Fatalf("path = %s, want /v1/data/clinic/policy", r.URL.Path)
		}
		var req struct {
			Input corepolicy.Input `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotInput = req.Input
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"decision":       "ALLOW",
				"violations":     []string{},
				"policy_version": "2026.09",
			},
		})
	}))
	defer srv.Close()

	client := NewOPAClient(srv.URL, time.Second)
	decision, err := client.Evaluate(context.Background(), corepolicy.Input{
		Action:    "send_reminder",
		PatientID: "PAT-001",
		ClinicID:  "CLINIC-1",
		RiskScore: 0.8,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Allowed() {
		t.Fatalf("Evaluate() = %v, want ALLOW", decision)
	}
	if decision.PolicyVersion != "2026.09" {
		t.Fatalf("policy version = %q, want 2026.09", decision.PolicyVersion)
	}
	if gotInput.PatientID != "PAT-001" || gotInput.Action != "send_reminder" {
		t.Fatalf("evaluator saw input %+v", gotInput)
	}
}

func TestEvaluateErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"5xx", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
		{"missing decision", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"result":{}}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := NewOPAClient(srv.URL, time.Second)
			if _, err := client.Evaluate(context.Background(), corepolicy.Input{}); err == nil {
				t.Fatal("Evaluate() error = nil, want error")
			}
		})
	}
}

func TestEvaluateUnreachable(t *testing.T) {
	client := NewOPAClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := client.Evaluate(context.Background(), corepolicy.Input{}); err == nil {
		t.Fatal("Evaluate() error = nil, want transport error")
	}
}
