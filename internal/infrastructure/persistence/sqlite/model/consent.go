package model

type Consent struct {
	PatientID string  `gorm:"column:patient_id;type:text;primaryKey"`
	Channel   string  `gorm:"column:channel;type:text;primaryKey"`
	GrantedAt string  `gorm:"column:granted_at;type:text;not null"`
	RevokedAt *string `gorm:"column:revoked_at;type:text"`
}

func (Consent) TableName() string {
	return "consents"
}
