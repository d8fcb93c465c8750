package model

type WebhookDelivery struct {
	DeliveryID string `gorm:"column:delivery_id;type:text;primaryKey"`
	ReceivedAt string `gorm:"column:received_at;type:text;not null"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
