package model

// Event is append-only: rows are never updated or deleted.
type Event struct {
	ID             uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	EventID        string  `gorm:"column:event_id;type:text;not null;uniqueIndex"`
	EventType      string  `gorm:"column:event_type;type:text;not null;index"`
	AggregateID    string  `gorm:"column:aggregate_id;type:text;not null;index"`
	Payload        string  `gorm:"column:payload;type:text;not null"`
	Actor          string  `gorm:"column:actor;type:text;not null"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null"`
	IdempotencyKey *string `gorm:"column:idempotency_key;type:text;uniqueIndex"`
}

func (Event) TableName() string {
	return "events"
}
