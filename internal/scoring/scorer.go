// Package scoring holds the deterministic no-show risk scorer.
//
// Rule-based (rules-v1), no ML: every factor is auditable and the same
// input always yields the same score under a given scorer version.
package scoring

import (
	"math"
	"time"

	"cacp/internal/domain/plan"
)

// Version tags every assessment this scorer produces.
const Version = "rules-v1"

// Factor weights, must sum to 1.0.
const (
	weightNoShowHistory = 0.40
	weightFirstVisit    = 0.15
	weightLeadTime      = 0.15
	weightTimeOfDay     = 0.10
	weightDayOfWeek     = 0.10
	weightContact       = 0.10
)

// Tier cut points, closed-open so boundary scores resolve to the lower tier.
const (
	tierMediumFloor = 0.3
	tierHighFloor   = 0.6
)

type Scorer struct {
	now func() time.Time
}

func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// NewScorerWithClock pins the clock so lead-time signals are reproducible.
func NewScorerWithClock(now func() time.Time) *Scorer {
	return &Scorer{now: now}
}

// Score assesses an appointment for no-show risk. Missing or malformed
// optional fields degrade to neutral signals, never to an error.
func (s *Scorer) Score(appt plan.Appointment) plan.RiskAssessment {
	factors := map[string]float64{}

	// No-show history is the strongest predictor: 0, 1, 2, 3+ prior
	// no-shows map to 0 / 0.5 / 0.75 / 1.0.
	switch {
	case appt.PreviousNoShows <= 0:
		factors["no_show_history"] = 0.0
	case appt.PreviousNoShows == 1:
		factors["no_show_history"] = 0.5
	case appt.PreviousNoShows == 2:
		factors["no_show_history"] = 0.75
	default:
		factors["no_show_history"] = 1.0
	}

	if appt.IsFirstVisit {
		factors["first_visit"] = 0.6
	} else {
		factors["first_visit"] = 0.0
	}

	scheduled, parseErr := time.Parse(time.RFC3339, appt.ScheduledAt)
	factors["lead_time"] = s.leadTimeSignal(scheduled, parseErr == nil)
	factors["time_of_day"] = timeOfDaySignal(scheduled, parseErr == nil)
	factors["day_of_week"] = dayOfWeekSignal(scheduled, parseErr == nil)

	hasPhone := appt.PatientPhone != ""
	switch {
	case hasPhone && appt.PatientWhatsApp:
		factors["contact"] = 0.0
	case hasPhone || appt.PatientWhatsApp:
		factors["contact"] = 0.3
	default:
		factors["contact"] = 0.8
	}

	raw := weightNoShowHistory*factors["no_show_history"] +
		weightFirstVisit*factors["first_visit"] +
		weightLeadTime*factors["lead_time"] +
		weightTimeOfDay*factors["time_of_day"] +
		weightDayOfWeek*factors["day_of_week"] +
		weightContact*factors["contact"]

	score := clamp(math.Round(raw*10000) / 10000)

	return plan.RiskAssessment{
		AppointmentID: appt.AppointmentID,
		Score:         score,
		Tier:          TierOf(score),
		ScorerVersion: Version,
		Factors:       factors,
	}
}

// leadTimeSignal: same-day 0.7, under 3 days 0.3, over 14 days 0.5
// (far-out bookings are forgotten), otherwise 0.1.
func (s *Scorer) leadTimeSignal(scheduled time.Time, parsed bool) float64 {
	if !parsed {
		return 0.3
	}
	days := scheduled.Sub(s.now()).Hours() / 24
	switch {
	case days < 1:
		return 0.7
	case days < 3:
		return 0.3
	case days > 14:
		return 0.5
	default:
		return 0.1
	}
}

func timeOfDaySignal(scheduled time.Time, parsed bool) float64 {
	if !parsed {
		return 0.3
	}
	hour := scheduled.Hour()
	switch {
	case hour < 9 || hour >= 17:
		return 0.6
	case hour < 11:
		return 0.2
	default:
		return 0.1
	}
}

func dayOfWeekSignal(scheduled time.Time, parsed bool) float64 {
	if !parsed {
		return 0.3
	}
	switch scheduled.Weekday() {
	case time.Monday, time.Friday:
		return 0.6
	case time.Saturday, time.Sunday:
		return 0.4
	default:
		return 0.1
	}
}

// TierOf maps a score to its discrete tier using closed-open intervals:
// [0, 0.3) low, [0.3, 0.6) medium, [0.6, 1] high.
func TierOf(score float64) plan.RiskTier {
	switch {
	case score < tierMediumFloor:
		return plan.TierLow
	case score < tierHighFloor:
		return plan.TierMedium
	default:
		return plan.TierHigh
	}
}

func clamp(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
