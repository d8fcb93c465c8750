package model

type ExecutionRecord struct {
	RecordID     string `gorm:"column:record_id;type:text;primaryKey"`
	ProposalID   string `gorm:"column:proposal_id;type:text;not null;index"`
	ActionIndex  int    `gorm:"column:action_index;not null"`
	RailOutcomes string `gorm:"column:rail_outcomes;type:text;not null"`
	Outcome      string `gorm:"column:outcome;type:text;not null"`
	Detail       string `gorm:"column:detail;type:text"`
	CreatedAt    string `gorm:"column:created_at;type:text;not null"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}
