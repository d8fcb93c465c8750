package plan

// ManifestPayload renders a proposal as the wire payload that gets signed
// and submitted for approval. Actions are emitted as plain maps so the
// canonical encoding sorts keys at every nesting level.
func ManifestPayload(p Proposal, environment string) map[string]any {
	actions := make([]any, 0, len(p.Actions))
	for _, a := range p.Actions {
		actions = append(actions, map[string]any{
			"action_type":  a.ActionType,
			"channel":      a.Channel,
			"template":     a.Template,
			"hours_before": a.HoursBefore,
		})
	}

	payload := map[string]any{
		"plan_id":        p.ProposalID,
		"version":        p.Version,
		"environment":    environment,
		"clinic_id":      p.ClinicID,
		"appointment_id": p.AppointmentID,
		"patient_id":     p.PatientID,
		"risk_level":     string(p.RiskTier),
		"risk_score":     p.RiskScore,
		"actions":        actions,
		"created_at":     p.CreatedAt,
	}
	if p.Signature != "" {
		payload["hmac_signature"] = p.Signature
	}
	return payload
}
