package repository

import (
	"context"

	"gorm.io/gorm"

	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
)

// CounterRepository backs the rolling-window rate-limit counter. Callers
// run ReserveSend inside the unit of work; sqlite serializes writers, so
// the count and the insert form one indivisible check-then-increment.
type CounterRepository struct {
	db *gorm.DB
}

func NewCounterRepository(db *gorm.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) CountSince(ctx context.Context, patientID, channel, since string) (int, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.MessageSend{}).
		Where("patient_id = ? AND channel = ? AND sent_at > ?", patientID, channel, since).
		Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count sends")
	}
	return int(count), nil
}

func (r *CounterRepository) ReserveSend(ctx context.Context, patientID, channel string, limit int, since, at string) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Model(&model.MessageSend{}).
		Where("patient_id = ? AND channel = ? AND sent_at > ?", patientID, channel, since).
		Count(&count).Error; err != nil {
		return false, errs.Wrap(err, "count sends")
	}
	if limit > 0 && count >= int64(limit) {
		return false, nil
	}

	row := model.MessageSend{
		PatientID: patientID,
		Channel:   channel,
		SentAt:    at,
	}
	if err := db.Create(&row).Error; err != nil {
		return false, errs.Wrap(err, "record send")
	}
	return true, nil
}
