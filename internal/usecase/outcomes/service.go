// Package outcomes records what actually happened to appointments after
// outreach: confirmations, reschedules and no-shows. The numbers the stats
// endpoint serves are a pure fold over the event log, never a separately
// maintained counter.
package outcomes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cacp/internal/domain/plan"
	"cacp/internal/ports"
)

const eventActor = "outcomes"

type Service struct {
	uow    ports.UnitOfWork
	events ports.EventStore
	now    func() time.Time
}

func NewService(uow ports.UnitOfWork, events ports.EventStore) (*Service, error) {
	if uow == nil || events == nil {
		return nil, errors.New("outcomes requires a unit of work and an event store")
	}
	return &Service{uow: uow, events: events, now: time.Now}, nil
}

// RecordConfirmation marks an appointment confirmed by the patient. The
// provider reference, when present, deduplicates provider retries.
func (s *Service) RecordConfirmation(ctx context.Context, appointmentID, channel, providerRef string) error {
	return s.record(ctx, plan.EventAppointmentConfirmed, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
		"provider_ref":   providerRef,
	}, providerKey("confirmed", appointmentID, providerRef))
}

// RecordReschedule marks an appointment the patient asked to move.
func (s *Service) RecordReschedule(ctx context.Context, appointmentID, channel, providerRef string) error {
	return s.record(ctx, plan.EventAppointmentRescheduled, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
		"provider_ref":   providerRef,
	}, providerKey("rescheduled", appointmentID, providerRef))
}

// RecordNoShow marks an appointment the patient missed. Recording the same
// appointment twice is a no-op.
func (s *Service) RecordNoShow(ctx context.Context, appointmentID, clinicID string) error {
	return s.record(ctx, plan.EventNoShowRecorded, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"clinic_id":      clinicID,
	}, "noshow:"+appointmentID)
}

// Provider delivery statuses worth keeping. Anything else (accepted,
// receiving, read, ...) is acknowledged and dropped.
var trackedStatuses = map[string]struct{}{
	"queued":      {},
	"sent":        {},
	"delivered":   {},
	"undelivered": {},
	"failed":      {},
}

// RecordDeliveryStatus stores a provider delivery-status callback as an
// sms_<status> event keyed by the provider message id. Returns false when
// the status is not one we track.
func (s *Service) RecordDeliveryStatus(ctx context.Context, appointmentID, status, messageSid string) (bool, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if _, ok := trackedStatuses[status]; !ok {
		return false, nil
	}
	if strings.TrimSpace(messageSid) == "" {
		return false, fmt.Errorf("%w: message sid is required", plan.ErrInvalidRequest)
	}

	aggregateID := appointmentID
	if strings.TrimSpace(aggregateID) == "" {
		aggregateID = messageSid
	}
	err := s.record(ctx, "sms_"+status, aggregateID, map[string]any{
		"appointment_id": appointmentID,
		"message_sid":    messageSid,
		"status":         status,
	}, "sms_status:"+messageSid+":"+status)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) record(ctx context.Context, eventType, aggregateID string, payload map[string]any, idempotencyKey string) error {
	if strings.TrimSpace(aggregateID) == "" {
		return fmt.Errorf("%w: appointment_id is required", plan.ErrInvalidRequest)
	}
	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		_, _, err := s.events.Append(txCtx, ports.EventAppend{
			EventType:      eventType,
			AggregateID:    aggregateID,
			Payload:        payload,
			Actor:          eventActor,
			IdempotencyKey: idempotencyKey,
		})
		return err
	})
}

func providerKey(kind, appointmentID, providerRef string) string {
	if providerRef == "" {
		return ""
	}
	return kind + ":" + appointmentID + ":" + providerRef
}

// Stats is the no-show read model.
type Stats struct {
	AppointmentsIngested int     `json:"appointments_ingested"`
	ProposalsGenerated   int     `json:"proposals_generated"`
	ProposalsRejected    int     `json:"proposals_rejected"`
	ProposalsExecuted    int     `json:"proposals_executed"`
	Confirmed            int     `json:"confirmed"`
	Rescheduled          int     `json:"rescheduled"`
	NoShows              int     `json:"no_shows"`
	NoShowRate           float64 `json:"no_show_rate"`
	ConfirmationRate     float64 `json:"confirmation_rate"`
}

// NoShowStats folds the event log into aggregate counts and rates. Rates
// are over ingested appointments; with nothing ingested they are zero.
func (s *Service) NoShowStats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := map[string]*int{
		plan.EventAppointmentIngested:    &stats.AppointmentsIngested,
		plan.EventProposalGenerated:      &stats.ProposalsGenerated,
		plan.EventProposalRejected:       &stats.ProposalsRejected,
		plan.EventProposalExecuted:       &stats.ProposalsExecuted,
		plan.EventAppointmentConfirmed:   &stats.Confirmed,
		plan.EventAppointmentRescheduled: &stats.Rescheduled,
		plan.EventNoShowRecorded:         &stats.NoShows,
	}

	for eventType, target := range counts {
		events, err := s.events.ListByType(ctx, eventType, 0)
		if err != nil {
			return Stats{}, err
		}
		*target = len(events)
	}

	if stats.AppointmentsIngested > 0 {
		stats.NoShowRate = float64(stats.NoShows) / float64(stats.AppointmentsIngested)
		stats.ConfirmationRate = float64(stats.Confirmed) / float64(stats.AppointmentsIngested)
	}
	return stats, nil
}
