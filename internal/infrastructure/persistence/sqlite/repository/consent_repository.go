package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
)

type ConsentRepository struct {
	db *gorm.DB
}

func NewConsentRepository(db *gorm.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

func (r *ConsentRepository) HasConsent(ctx context.Context, patientID, channel string) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	var row model.Consent
	if err := db.Where("patient_id = ? AND channel = ?", patientID, channel).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errs.Wrap(err, "query consent")
	}
	return row.RevokedAt == nil, nil
}

// Grant records consent, clearing any earlier revocation for the pair.
func (r *ConsentRepository) Grant(ctx context.Context, patientID, channel, grantedAt string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	row := model.Consent{
		PatientID: patientID,
		Channel:   channel,
		GrantedAt: grantedAt,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}, {Name: "channel"}},
		DoUpdates: clause.Assignments(map[string]any{"granted_at": grantedAt, "revoked_at": nil}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "grant consent")
	}
	return nil
}

func (r *ConsentRepository) Revoke(ctx context.Context, patientID, channel, revokedAt string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.Consent{}).
		Where("patient_id = ? AND channel = ? AND revoked_at IS NULL", patientID, channel).
		Update("revoked_at", revokedAt)
	if result.Error != nil {
		return errs.Wrap(result.Error, "revoke consent")
	}
	return nil
}
