package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/infrastructure/adapters"
)

// Webhook bodies stay small; a megabyte is already generous.
const maxWebhookBody = 1 << 20

type appointmentRequest struct {
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	ClinicID        string `json:"clinic_id"`
	ScheduledAt     string `json:"scheduled_at"`
	TreatmentType   string `json:"treatment_type"`
	IsFirstVisit    bool   `json:"is_first_visit"`
	PreviousNoShows int    `json:"previous_no_shows"`
	PatientPhone    string `json:"patient_phone"`
	PatientWhatsApp bool   `json:"patient_whatsapp"`
	ConsentGiven    bool   `json:"consent_given"`
}

func (r appointmentRequest) toDomain() plan.Appointment {
	return plan.Appointment{
		AppointmentID:   r.AppointmentID,
		PatientID:       r.PatientID,
		ClinicID:        r.ClinicID,
		ScheduledAt:     r.ScheduledAt,
		TreatmentType:   r.TreatmentType,
		IsFirstVisit:    r.IsFirstVisit,
		PreviousNoShows: r.PreviousNoShows,
		PatientPhone:    r.PatientPhone,
		PatientWhatsApp: r.PatientWhatsApp,
		ConsentGiven:    r.ConsentGiven,
	}
}

type proposalResponse struct {
	ProposalID    string        `json:"proposal_id"`
	AppointmentID string        `json:"appointment_id"`
	PatientID     string        `json:"patient_id"`
	ClinicID      string        `json:"clinic_id"`
	RiskTier      string        `json:"risk_tier"`
	RiskScore     float64       `json:"risk_score"`
	Actions       []plan.Action `json:"actions"`
	Reasons       []string      `json:"reasons"`
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	CreatedAt     string        `json:"created_at"`
}

func toProposalResponse(p plan.Proposal) proposalResponse {
	return proposalResponse{
		ProposalID:    p.ProposalID,
		AppointmentID: p.AppointmentID,
		PatientID:     p.PatientID,
		ClinicID:      p.ClinicID,
		RiskTier:      string(p.RiskTier),
		RiskScore:     p.RiskScore,
		Actions:       p.Actions,
		Reasons:       p.Reasons,
		Status:        string(p.Status),
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
	}
}

func (s *Server) handleIngestAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.orchestrator.ProcessAppointment(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, plan.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error(r.Context(), "ingest appointment", slog.Any("err", errs.Loggable(err)))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := map[string]any{
		"proposal":  toProposalResponse(result.Proposal),
		"rejected":  result.Rejected,
		"submitted": result.Submitted,
		"risk": map[string]any{
			"score":          result.Assessment.Score,
			"tier":           string(result.Assessment.Tier),
			"scorer_version": result.Assessment.ScorerVersion,
		},
	}
	if result.Submitted {
		response["submission"] = map[string]any{
			"pr_number": result.Submission.PRNumber,
			"pr_url":    result.Submission.PRURL,
			"branch":    result.Submission.Branch,
		}
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *Server) handleRecordNoShow(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	clinicID := r.URL.Query().Get("clinic_id")

	if err := s.outcomes.RecordNoShow(r.Context(), appointmentID, clinicID); err != nil {
		if errors.Is(err, plan.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"appointment_id": appointmentID, "status": "recorded"})
}

type consentRequest struct {
	PatientID string `json:"patient_id"`
	Channel   string `json:"channel"`
	Granted   bool   `json:"granted"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.Channel) == "" {
		writeError(w, http.StatusBadRequest, "patient_id and channel are required")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var err error
	if req.Granted {
		err = s.consents.Grant(r.Context(), req.PatientID, req.Channel, now)
	} else {
		err = s.consents.Revoke(r.Context(), req.PatientID, req.Channel, now)
	}
	if err != nil {
		logging.Error(r.Context(), "update consent", slog.Any("err", errs.Loggable(err)))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": req.PatientID,
		"channel":    req.Channel,
		"granted":    req.Granted,
	})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	proposals, err := s.orchestrator.ListProposals(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toProposalResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.orchestrator.GetProposal(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		if errors.Is(err, plan.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(proposal))
}

func (s *Server) handleProposalEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.orchestrator.Timeline(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, event := range events {
		out = append(out, map[string]any{
			"event_id":   event.EventID,
			"event_type": event.EventType,
			"payload":    event.Payload,
			"actor":      event.Actor,
			"created_at": event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")
	submission, err := s.orchestrator.Resubmit(r.Context(), proposalID)
	if err != nil {
		switch {
		case errors.Is(err, plan.ErrProposalNotFound):
			writeError(w, http.StatusNotFound, "proposal not found")
		case errors.Is(err, plan.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logging.Error(r.Context(), "resubmit proposal", slog.Any("err", errs.Loggable(err)))
			writeError(w, http.StatusBadGateway, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": proposalID,
		"pr_number":   submission.PRNumber,
		"pr_url":      submission.PRURL,
		"branch":      submission.Branch,
	})
}

func (s *Server) handleNoShowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.outcomes.NoShowStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if event := r.Header.Get("X-GitHub-Event"); event != "pull_request" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "event": event})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	result, err := s.approval.HandleMergeEvent(r.Context(),
		r.Header.Get("X-GitHub-Delivery"), body, r.Header.Get("X-Hub-Signature-256"))
	if err != nil {
		switch {
		case errors.Is(err, plan.ErrSignatureInvalid):
			writeError(w, http.StatusUnauthorized, "signature verification failed")
		case errors.Is(err, plan.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, "malformed payload")
		case errors.Is(err, plan.ErrProposalNotFound):
			writeError(w, http.StatusNotFound, "unknown proposal")
		case errors.Is(err, plan.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "proposal cannot be approved")
		default:
			logging.Error(r.Context(), "merge webhook", slog.Any("err", errs.Loggable(err)))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	status := "approved"
	switch {
	case result.Duplicate:
		status = "duplicate"
	case result.Ignored:
		status = "ignored"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "proposal_id": result.ProposalID})
}

func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TwilioAuthToken == "" {
		writeError(w, http.StatusNotFound, "not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable form")
		return
	}

	requestURL := s.cfg.PublicBaseURL + r.URL.RequestURI()
	if !adapters.ValidateTwilioSignature(s.cfg.TwilioAuthToken, requestURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	appointmentID := r.URL.Query().Get("appointment_id")
	messageSid := r.PostForm.Get("MessageSid")

	// Status callbacks and inbound replies arrive on the same endpoint;
	// a MessageStatus field marks the former.
	if status := r.PostForm.Get("MessageStatus"); status != "" {
		tracked, err := s.outcomes.RecordDeliveryStatus(r.Context(), appointmentID, status, messageSid)
		if err != nil {
			if errors.Is(err, plan.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			logging.Error(r.Context(), "twilio status webhook", slog.Any("err", errs.Loggable(err)))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !tracked {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	keyword := strings.ToUpper(strings.TrimSpace(r.PostForm.Get("Body")))

	var err error
	switch {
	case strings.HasPrefix(keyword, "YES") || keyword == "CONFIRM":
		err = s.outcomes.RecordConfirmation(r.Context(), appointmentID, "sms", messageSid)
	case strings.Contains(keyword, "RESCHEDULE"):
		err = s.outcomes.RecordReschedule(r.Context(), appointmentID, "sms", messageSid)
	default:
		// Unrecognized replies are acknowledged and dropped.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		if errors.Is(err, plan.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error(r.Context(), "twilio webhook", slog.Any("err", errs.Loggable(err)))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
