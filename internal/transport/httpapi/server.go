// Package httpapi exposes the control plane over HTTP: appointment
// ingestion, proposal reads, outcome recording, and the inbound webhooks.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"cacp/internal/ports"
	"cacp/internal/usecase/approval"
	"cacp/internal/usecase/orchestrator"
	"cacp/internal/usecase/outcomes"
)

type Config struct {
	// TwilioAuthToken enables signature validation on the inbound Twilio
	// webhook; empty disables the webhook entirely.
	TwilioAuthToken string
	// PublicBaseURL is the externally visible origin, needed to rebuild
	// the exact URL Twilio signed.
	PublicBaseURL string
}

type Server struct {
	orchestrator *orchestrator.Service
	approval     *approval.Service
	outcomes     *outcomes.Service
	consents     ports.ConsentStore
	db           *gorm.DB
	cfg          Config
}

func NewServer(
	orchestratorSvc *orchestrator.Service,
	approvalSvc *approval.Service,
	outcomesSvc *outcomes.Service,
	consents ports.ConsentStore,
	db *gorm.DB,
	cfg Config,
) *Server {
	return &Server{
		orchestrator: orchestratorSvc,
		approval:     approvalSvc,
		outcomes:     outcomesSvc,
		consents:     consents,
		db:           db,
		cfg:          cfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/appointments", s.handleIngestAppointment)
		r.Post("/appointments/{appointmentID}/no-show", s.handleRecordNoShow)
		r.Post("/consents", s.handleConsent)
		r.Get("/proposals", s.handleListProposals)
		r.Get("/proposals/{proposalID}", s.handleGetProposal)
		r.Get("/proposals/{proposalID}/events", s.handleProposalEvents)
		r.Post("/proposals/{proposalID}/resubmit", s.handleResubmit)
		r.Get("/stats/no-show", s.handleNoShowStats)
	})

	r.Post("/webhooks/github", s.handleGitHubWebhook)
	r.Post("/webhooks/twilio", s.handleTwilioWebhook)

	return r
}

func decodeJSON(r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	return json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
