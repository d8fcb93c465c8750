package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
)

// DedupRepository implements the first-insert-wins reservations for action
// execution and webhook deliveries.
type DedupRepository struct {
	db *gorm.DB
}

func NewDedupRepository(db *gorm.DB) *DedupRepository {
	return &DedupRepository{db: db}
}

func (r *DedupRepository) ReserveAction(ctx context.Context, proposalID string, actionIndex int, at string) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	row := model.ActionDedup{
		ProposalID:  proposalID,
		ActionIndex: actionIndex,
		ReservedAt:  at,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "action_index"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "reserve action")
	}
	return result.RowsAffected > 0, nil
}

func (r *DedupRepository) ReserveDelivery(ctx context.Context, deliveryID, receivedAt string) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	row := model.WebhookDelivery{
		DeliveryID: deliveryID,
		ReceivedAt: receivedAt,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "delivery_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "reserve delivery")
	}
	return result.RowsAffected > 0, nil
}
