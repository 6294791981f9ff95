package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// pgSettingsRepository persists the single settings row (id = 1).
// Targets are stored as JSONB.
type pgSettingsRepository struct {
	db dbtx
}

func (r *pgSettingsRepository) Get(ctx context.Context) (*domain.Settings, error) {
	var s domain.Settings
	err := r.db.QueryRow(ctx, `
		SELECT enabled, bot_token, cooldown_minutes, quiet_hours, targets, updated_at
		FROM notification_settings WHERE id = 1`).
		Scan(&s.Enabled, &s.BotToken, &s.CooldownMinutes, &s.QuietHours, &s.Targets, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *pgSettingsRepository) Save(ctx context.Context, s *domain.Settings) error {
	targets := s.Targets
	if targets == nil {
		targets = []domain.Target{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_settings
			(id, enabled, bot_token, cooldown_minutes, quiet_hours, targets, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			bot_token = EXCLUDED.bot_token,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			quiet_hours = EXCLUDED.quiet_hours,
			targets = EXCLUDED.targets,
			updated_at = EXCLUDED.updated_at`,
		s.Enabled, s.BotToken, s.CooldownMinutes, s.QuietHours, targets, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
