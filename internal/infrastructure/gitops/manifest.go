// Package gitops submits signed plan manifests to the approval repository
// as pull requests. One proposal maps to one branch and one manifest file;
// resubmission finds the existing pull request instead of opening another.
package gitops

import (
	"gopkg.in/yaml.v3"

	"cacp/internal/domain/plan"
	"cacp/internal/errs"
)

// Manifest is the YAML document reviewers approve. Field order is part of
// the reviewed surface, so it is a struct rather than a map.
type Manifest struct {
	PlanID        string        `yaml:"plan_id"`
	Version       string        `yaml:"version"`
	Environment   string        `yaml:"environment"`
	ClinicID      string        `yaml:"clinic_id"`
	AppointmentID string        `yaml:"appointment_id"`
	PatientID     string        `yaml:"patient_id"`
	RiskLevel     string        `yaml:"risk_level"`
	RiskScore     float64       `yaml:"risk_score"`
	Actions       []plan.Action `yaml:"actions"`
	CreatedAt     string        `yaml:"created_at"`
	HMACSignature string        `yaml:"hmac_signature"`
}

func NewManifest(p plan.Proposal, environment string) Manifest {
	return Manifest{
		PlanID:        p.ProposalID,
		Version:       p.Version,
		Environment:   environment,
		ClinicID:      p.ClinicID,
		AppointmentID: p.AppointmentID,
		PatientID:     p.PatientID,
		RiskLevel:     string(p.RiskTier),
		RiskScore:     p.RiskScore,
		Actions:       p.Actions,
		CreatedAt:     p.CreatedAt,
		HMACSignature: p.Signature,
	}
}

func (m Manifest) YAML() ([]byte, error) {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(err, "marshal manifest")
	}
	return raw, nil
}
