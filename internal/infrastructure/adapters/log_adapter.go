// Package adapters holds the outbound messaging providers behind the
// ports.ActionAdapter interface.
package adapters

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/ports"
)

// LogAdapter delivers nothing; it logs the send and fabricates a message
// identifier. Default in development and tests.
type LogAdapter struct{}

func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

func (a *LogAdapter) Execute(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	messageID := "log-" + uuid.NewString()
	logging.Info(ctx, "message send (log adapter)",
		slog.String("channel", req.Channel),
		slog.String("template", req.Template),
		slog.String("patient_id", req.PatientID),
		slog.String("appointment_id", req.AppointmentID),
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.String("provider_message_id", messageID))
	return ports.SendResult{Provider: "log", ProviderMessageID: messageID}, nil
}
