package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
	"cacp/internal/ports"
)

// EventStore is the append-only log. Inserts only; the insertion-order id
// column is the global order.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, input ports.EventAppend) (ports.Event, bool, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return ports.Event{}, false, err
	}

	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return ports.Event{}, false, errs.Wrap(err, "marshal event payload")
	}

	actor := input.Actor
	if actor == "" {
		actor = "system"
	}

	row := model.Event{
		EventID:     uuid.NewString(),
		EventType:   input.EventType,
		AggregateID: input.AggregateID,
		Payload:     string(payload),
		Actor:       actor,
		CreatedAt:   nowUTCString(),
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		row.IdempotencyKey = &key

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return ports.Event{}, false, errs.Wrap(result.Error, "append event")
		}
		if result.RowsAffected == 0 {
			existing, err := s.getByIdempotencyKey(db, input.IdempotencyKey)
			if err != nil {
				return ports.Event{}, false, err
			}
			return existing, false, nil
		}
		return mapEvent(row), true, nil
	}

	if err := db.Create(&row).Error; err != nil {
		return ports.Event{}, false, errs.Wrap(err, "append event")
	}
	return mapEvent(row), true, nil
}

func (s *EventStore) getByIdempotencyKey(db *gorm.DB, key string) (ports.Event, error) {
	var row model.Event
	if err := db.Where("idempotency_key = ?", key).First(&row).Error; err != nil {
		return ports.Event{}, errs.Wrap(err, "load event by idempotency key")
	}
	return mapEvent(row), nil
}

func (s *EventStore) ListByAggregate(ctx context.Context, aggregateID string) ([]ports.Event, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Event
	if err := db.
		Where("aggregate_id = ?", aggregateID).
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events by aggregate")
	}
	return mapEvents(rows), nil
}

func (s *EventStore) ListByType(ctx context.Context, eventType string, limit int) ([]ports.Event, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Event
	query := db.Where("event_type = ?", eventType).Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events by type")
	}
	return mapEvents(rows), nil
}

func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]ports.Event, error) {
	db, err := dbFromContext(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Event
	query := db.Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query recent events")
	}
	return mapEvents(rows), nil
}

func mapEvent(row model.Event) ports.Event {
	var payload map[string]any
	_ = json.Unmarshal([]byte(row.Payload), &payload)

	event := ports.Event{
		EventID:     row.EventID,
		EventType:   row.EventType,
		AggregateID: row.AggregateID,
		Payload:     payload,
		Actor:       row.Actor,
		CreatedAt:   row.CreatedAt,
	}
	if row.IdempotencyKey != nil {
		event.IdempotencyKey = *row.IdempotencyKey
	}
	return event
}

func mapEvents(rows []model.Event) []ports.Event {
	events := make([]ports.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, mapEvent(row))
	}
	return events
}
