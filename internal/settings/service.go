// Package settings holds the process-wide notification settings. Readers
// get an immutable snapshot; writers validate, persist and then swap it.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/quiethours"
	"github.com/notifyhub/stock-alerts/internal/repository"
)

// RedactedToken is what the API shows instead of the bot token. Sending it
// back in an update keeps the stored token.
const RedactedToken = domain.RedactedToken

type Service struct {
	repo     repository.SettingsRepository
	defaults domain.Settings
	logger   *zap.Logger
	now      func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[domain.Settings]
}

// New returns a Service serving defaults until Load or Update is called.
func New(repo repository.SettingsRepository, defaults domain.Settings, logger *zap.Logger) *Service {
	s := &Service{
		repo:     repo,
		defaults: defaults.Clone(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.current.Store(&s.defaults)
	return s
}

// Current returns a copy of the active settings.
func (s *Service) Current() domain.Settings {
	return s.current.Load().Clone()
}

// Load reads the stored settings, seeding the store with the defaults when
// nothing has been stored yet.
func (s *Service) Load(ctx context.Context) error {
	stored, err := s.repo.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		seed := s.defaults.Clone()
		seed.UpdatedAt = s.now()
		if err := s.repo.Save(ctx, &seed); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		s.current.Store(&seed)
		s.logger.Info("notification settings seeded from environment")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.warnQuietHours(stored.QuietHours)
	s.current.Store(stored)
	return nil
}

// Update validates next, persists it and makes it current.
func (s *Service) Update(ctx context.Context, next domain.Settings) (domain.Settings, error) {
	if err := next.Validate(); err != nil {
		return domain.Settings{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next = next.Clone()
	if next.BotToken == RedactedToken {
		next.BotToken = s.current.Load().BotToken
	}
	next.UpdatedAt = s.now()
	s.warnQuietHours(next.QuietHours)

	if err := s.repo.Save(ctx, &next); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.current.Store(&next)

	s.logger.Info("notification settings updated",
		zap.Bool("enabled", next.Enabled),
		zap.Int("cooldown_minutes", next.CooldownMinutes),
		zap.String("quiet_hours", next.QuietHours),
		zap.Int("targets", len(next.Targets)),
	)
	return next.Clone(), nil
}

func (s *Service) warnQuietHours(spec string) {
	if spec == "" {
		return
	}
	if _, err := quiethours.Parse(spec); err != nil {
		s.logger.Warn("quiet hours ignored", zap.String("quiet_hours", spec), zap.Error(err))
	}
}
