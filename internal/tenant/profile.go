// Package tenant loads per-clinic profiles: messaging limits, allowed
// channels, and quiet hours. Profiles are TOML files named
// <clinic_id>.toml under the configured profile directory.
package tenant

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cacp/internal/errs"
)

type MessagingConfig struct {
	PreferredChannel            string   `toml:"preferred_channel"`
	AllowedChannels             []string `toml:"allowed_channels"`
	MaxActionsPerPlan           int      `toml:"max_actions_per_plan"`
	MaxMessagesPerPatientPerDay int      `toml:"max_messages_per_patient_per_day"`
}

type QuietHoursConfig struct {
	StartHour int `toml:"start_hour"`
	EndHour   int `toml:"end_hour"`
}

type Profile struct {
	ClinicID   string           `toml:"clinic_id"`
	Timezone   string           `toml:"timezone"`
	Messaging  MessagingConfig  `toml:"messaging"`
	QuietHours QuietHoursConfig `toml:"quiet_hours"`
}

// Default returns the profile applied when a clinic has no file of its own.
func Default(clinicID string) Profile {
	return Profile{
		ClinicID: clinicID,
		Timezone: "Europe/Madrid",
		Messaging: MessagingConfig{
			PreferredChannel:            "whatsapp",
			AllowedChannels:             []string{"whatsapp", "sms"},
			MaxActionsPerPlan:           3,
			MaxMessagesPerPatientPerDay: 3,
		},
		QuietHours: QuietHoursConfig{StartHour: 22, EndHour: 8},
	}
}

// Load reads one profile file and fills gaps from the default.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errs.Wrap(err, "read profile")
	}

	var profile Profile
	if err := toml.Unmarshal(raw, &profile); err != nil {
		return Profile{}, errs.Wrap(err, "parse profile")
	}
	return withDefaults(profile), nil
}

func withDefaults(profile Profile) Profile {
	def := Default(profile.ClinicID)
	if strings.TrimSpace(profile.Timezone) == "" {
		profile.Timezone = def.Timezone
	}
	if strings.TrimSpace(profile.Messaging.PreferredChannel) == "" {
		profile.Messaging.PreferredChannel = def.Messaging.PreferredChannel
	}
	if len(profile.Messaging.AllowedChannels) == 0 {
		profile.Messaging.AllowedChannels = def.Messaging.AllowedChannels
	}
	if profile.Messaging.MaxActionsPerPlan <= 0 {
		profile.Messaging.MaxActionsPerPlan = def.Messaging.MaxActionsPerPlan
	}
	if profile.Messaging.MaxMessagesPerPatientPerDay <= 0 {
		profile.Messaging.MaxMessagesPerPatientPerDay = def.Messaging.MaxMessagesPerPatientPerDay
	}
	if profile.QuietHours.StartHour == 0 && profile.QuietHours.EndHour == 0 {
		profile.QuietHours = def.QuietHours
	}
	return profile
}

// ChannelAllowed reports whether the profile permits a channel.
func (p Profile) ChannelAllowed(channel string) bool {
	for _, allowed := range p.Messaging.AllowedChannels {
		if strings.EqualFold(allowed, channel) {
			return true
		}
	}
	return false
}

// InQuietHours reports whether t falls inside the quiet window, evaluated
// in the profile timezone. The window is [start, end) and may wrap
// midnight (the default 22 to 8 does).
func (p Profile) InQuietHours(t time.Time) bool {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()

	start := p.QuietHours.StartHour
	end := p.QuietHours.EndHour
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Store resolves clinic profiles from a directory, falling back to the
// default profile for unknown clinics.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Get(clinicID string) Profile {
	if s == nil || strings.TrimSpace(s.dir) == "" {
		return Default(clinicID)
	}

	profile, err := Load(filepath.Join(s.dir, clinicID+".toml"))
	if err != nil {
		return Default(clinicID)
	}
	if strings.TrimSpace(profile.ClinicID) == "" {
		profile.ClinicID = clinicID
	}
	return profile
}
