package domain

import (
	"strings"
	"time"
)

// Target is one delivery destination, e.g. a Telegram chat id.
type Target struct {
	Name        string `json:"name,omitempty" yaml:"name"`
	Destination string `json:"destination" yaml:"destination"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// Settings is the process-wide notification configuration.
type Settings struct {
	Enabled         bool      `json:"enabled"`
	BotToken        string    `json:"bot_token,omitempty"`
	CooldownMinutes int       `json:"cooldown_minutes"`
	QuietHours      string    `json:"quiet_hours"`
	Targets         []Target  `json:"targets"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Cooldown returns the configured spacing between two delivered notifications.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

// HasCredential reports whether a non-blank bot token is configured.
func (s Settings) HasCredential() bool {
	return strings.TrimSpace(s.BotToken) != ""
}

// EnabledTargets returns the enabled targets in configured order.
func (s Settings) EnabledTargets() []Target {
	out := make([]Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a copy that does not share the Targets slice.
func (s Settings) Clone() Settings {
	s.Targets = append([]Target(nil), s.Targets...)
	return s
}

func (s Settings) Validate() error {
	if s.CooldownMinutes < 0 {
		return ErrInvalidSettings
	}
	for _, t := range s.Targets {
		if strings.TrimSpace(t.Destination) == "" {
			return ErrInvalidSettings
		}
	}
	return nil
}

// RedactedToken replaces the bot token in API responses.
const RedactedToken = "********"

// Redacted hides the bot token for API responses.
func (s Settings) Redacted() Settings {
	out := s.Clone()
	if out.HasCredential() {
		out.BotToken = RedactedToken
	}
	return out
}
