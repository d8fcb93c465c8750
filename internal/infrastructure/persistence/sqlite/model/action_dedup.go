package model

// ActionDedup enforces at-most-one successful invocation per
// (proposal, action index); the first insert wins.
type ActionDedup struct {
	ProposalID  string `gorm:"column:proposal_id;type:text;primaryKey"`
	ActionIndex int    `gorm:"column:action_index;primaryKey"`
	ReservedAt  string `gorm:"column:reserved_at;type:text;not null"`
}

func (ActionDedup) TableName() string {
	return "action_dedup"
}
