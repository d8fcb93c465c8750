package model

// MessageSend rows back the rolling-window rate-limit counter; the counter
// is rebuildable from action_executed events.
type MessageSend struct {
	ID        uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	PatientID string `gorm:"column:patient_id;type:text;not null;index:idx_sends_key"`
	Channel   string `gorm:"column:channel;type:text;not null;index:idx_sends_key"`
	SentAt    string `gorm:"column:sent_at;type:text;not null;index:idx_sends_key"`
}

func (MessageSend) TableName() string {
	return "message_sends"
}
