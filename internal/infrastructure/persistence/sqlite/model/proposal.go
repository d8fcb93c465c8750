package model

type Proposal struct {
	ProposalID    string  `gorm:"column:proposal_id;type:text;primaryKey"`
	AppointmentID string  `gorm:"column:appointment_id;type:text;not null;index"`
	PatientID     string  `gorm:"column:patient_id;type:text;not null;index"`
	ClinicID      string  `gorm:"column:clinic_id;type:text;not null"`
	RiskTier      string  `gorm:"column:risk_tier;type:text;not null"`
	RiskScore     float64 `gorm:"column:risk_score;not null"`
	ActionsJSON   string  `gorm:"column:actions_json;type:text;not null"`
	ReasonsJSON   string  `gorm:"column:reasons_json;type:text;not null"`
	Signature     string  `gorm:"column:signature;type:text;not null"`
	Version       string  `gorm:"column:version;type:text;not null"`
	Status        string  `gorm:"column:status;type:text;not null;index"`
	CreatedAt     string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt     string  `gorm:"column:updated_at;type:text;not null"`
}

func (Proposal) TableName() string {
	return "proposals"
}
