package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
	"cacp/internal/ports"
)

type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Record(ctx context.Context, record ports.ExecutionRecord) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	rails, err := json.Marshal(record.RailOutcomes)
	if err != nil {
		return errs.Wrap(err, "marshal rail outcomes")
	}

	recordID := record.RecordID
	if recordID == "" {
		recordID = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt == "" {
		createdAt = nowUTCString()
	}

	row := model.ExecutionRecord{
		RecordID:     recordID,
		ProposalID:   record.ProposalID,
		ActionIndex:  record.ActionIndex,
		RailOutcomes: string(rails),
		Outcome:      record.Outcome,
		Detail:       record.Detail,
		CreatedAt:    createdAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert execution record")
	}
	return nil
}

func (r *ExecutionRepository) ListByProposal(ctx context.Context, proposalID string) ([]ports.ExecutionRecord, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.ExecutionRecord
	if err := db.
		Where("proposal_id = ?", proposalID).
		Order("created_at asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query execution records")
	}

	records := make([]ports.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		var rails map[string]string
		_ = json.Unmarshal([]byte(row.RailOutcomes), &rails)
		records = append(records, ports.ExecutionRecord{
			RecordID:     row.RecordID,
			ProposalID:   row.ProposalID,
			ActionIndex:  row.ActionIndex,
			RailOutcomes: rails,
			Outcome:      row.Outcome,
			Detail:       row.Detail,
			CreatedAt:    row.CreatedAt,
		})
	}
	return records, nil
}
