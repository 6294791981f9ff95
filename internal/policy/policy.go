// Package policy decides whether a notification may be delivered now or
// must be deferred for quiet hours or cooldown. It performs no writes.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/quiethours"
)

// SettingsProvider returns the current notification settings.
type SettingsProvider interface {
	Current() domain.Settings
}

// History looks up the most recently delivered notification.
// repository.NotificationRepository satisfies it.
type History interface {
	LastSent(ctx context.Context, productID string, channel domain.Channel) (*domain.Notification, error)
}

type Params struct {
	ProductID string // empty for notifications without a product
	Channel   domain.Channel
	Level     domain.Level
	Now       time.Time
}

type Decision struct {
	CanSend       bool          `json:"can_send"`
	Reason        domain.Reason `json:"reason"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
}

type Policy struct {
	settings SettingsProvider
	history  History
	loc      *time.Location
}

// New returns a Policy evaluating quiet hours in loc (UTC when nil).
func New(settings SettingsProvider, history History, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &Policy{settings: settings, history: history, loc: loc}
}

// WithHistory returns a copy reading history from h, typically a
// transaction-bound repository.
func (p *Policy) WithHistory(h History) *Policy {
	cp := *p
	cp.history = h
	return &cp
}

// Decide applies, in order: quiet hours, cooldown, then allow.
func (p *Policy) Decide(ctx context.Context, params Params) (Decision, error) {
	s := p.settings.Current()
	now := params.Now.In(p.loc)

	if w, err := quiethours.Parse(s.QuietHours); err == nil && w.Contains(now) {
		exit := w.NextExit(now)
		return Decision{Reason: domain.ReasonQuietHours, NextAttemptAt: &exit}, nil
	}

	if params.ProductID != "" {
		last, err := p.history.LastSent(ctx, params.ProductID, params.Channel)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return Decision{}, fmt.Errorf("load last sent notification: %w", err)
		default:
			until := last.SentAt.Add(s.Cooldown())
			if until.After(params.Now) {
				return Decision{Reason: domain.ReasonCooldown, NextAttemptAt: &until}, nil
			}
		}
	}

	return Decision{CanSend: true, Reason: domain.ReasonOK}, nil
}
