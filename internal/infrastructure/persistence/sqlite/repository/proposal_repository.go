package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/infrastructure/persistence/sqlite/model"
)

type ProposalRepository struct {
	db *gorm.DB
}

func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) Create(ctx context.Context, proposal plan.Proposal) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	actions, err := json.Marshal(proposal.Actions)
	if err != nil {
		return errs.Wrap(err, "marshal proposal actions")
	}
	reasons, err := json.Marshal(proposal.Reasons)
	if err != nil {
		return errs.Wrap(err, "marshal proposal reasons")
	}

	row := model.Proposal{
		ProposalID:    proposal.ProposalID,
		AppointmentID: proposal.AppointmentID,
		PatientID:     proposal.PatientID,
		ClinicID:      proposal.ClinicID,
		RiskTier:      string(proposal.RiskTier),
		RiskScore:     proposal.RiskScore,
		ActionsJSON:   string(actions),
		ReasonsJSON:   string(reasons),
		Signature:     proposal.Signature,
		Version:       proposal.Version,
		Status:        string(proposal.Status),
		CreatedAt:     proposal.CreatedAt,
		UpdatedAt:     proposal.UpdatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert proposal")
	}
	return nil
}

func (r *ProposalRepository) Get(ctx context.Context, proposalID string) (plan.Proposal, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return plan.Proposal{}, err
	}

	var row model.Proposal
	if err := db.Where("proposal_id = ?", proposalID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plan.Proposal{}, plan.ErrProposalNotFound
		}
		return plan.Proposal{}, errs.Wrap(err, "query proposal")
	}
	return mapProposal(row)
}

func (r *ProposalRepository) List(ctx context.Context, limit int) ([]plan.Proposal, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Proposal
	query := db.Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query proposals")
	}

	proposals := make([]plan.Proposal, 0, len(rows))
	for _, row := range rows {
		proposal, err := mapProposal(row)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	return proposals, nil
}

// Transition performs a guarded status update: the row must still hold the
// expected from status, so two concurrent transitions cannot both win.
func (r *ProposalRepository) Transition(ctx context.Context, proposalID string, from, to plan.Status, updatedAt string) error {
	if !plan.CanTransition(from, to) {
		return errs.Wrapf(plan.ErrInvalidTransition, "%s -> %s", from, to)
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.Proposal{}).
		Where("proposal_id = ? AND status = ?", proposalID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": updatedAt})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update proposal status")
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&model.Proposal{}).Where("proposal_id = ?", proposalID).Count(&count).Error; err != nil {
			return errs.Wrap(err, "check proposal existence")
		}
		if count == 0 {
			return plan.ErrProposalNotFound
		}
		return errs.Wrapf(plan.ErrInvalidTransition, "proposal %s is not in status %s", proposalID, from)
	}
	return nil
}

func mapProposal(row model.Proposal) (plan.Proposal, error) {
	var actions []plan.Action
	if err := json.Unmarshal([]byte(row.ActionsJSON), &actions); err != nil {
		return plan.Proposal{}, errs.Wrap(err, "unmarshal proposal actions")
	}
	var reasons []string
	if err := json.Unmarshal([]byte(row.ReasonsJSON), &reasons); err != nil {
		return plan.Proposal{}, errs.Wrap(err, "unmarshal proposal reasons")
	}

	return plan.Proposal{
		ProposalID:    row.ProposalID,
		AppointmentID: row.AppointmentID,
		PatientID:     row.PatientID,
		ClinicID:      row.ClinicID,
		RiskTier:      plan.RiskTier(row.RiskTier),
		RiskScore:     row.RiskScore,
		Actions:       actions,
		Reasons:       reasons,
		Signature:     row.Signature,
		Version:       row.Version,
		Status:        plan.Status(row.Status),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}
