package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 200 * time.Millisecond

// fileSettings is the YAML layout of SETTINGS_FILE:
//
//	enabled: true
//	bot_token: "123:abc"
//	cooldown_minutes: 60
//	quiet_hours: "22-07"
//	targets:
//	  - name: warehouse
//	    destination: "-100123"
//	    enabled: true
type fileSettings struct {
	Enabled         bool            `yaml:"enabled"`
	BotToken        string          `yaml:"bot_token"`
	CooldownMinutes int             `yaml:"cooldown_minutes"`
	QuietHours      string          `yaml:"quiet_hours"`
	Targets         []domain.Target `yaml:"targets"`
}

// LoadFile parses a YAML settings file. Keys absent from the file take the
// values in base.
func LoadFile(path string, base domain.Settings) (domain.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("read settings file: %w", err)
	}

	fs := fileSettings{
		Enabled:         base.Enabled,
		BotToken:        base.BotToken,
		CooldownMinutes: base.CooldownMinutes,
		QuietHours:      base.QuietHours,
		Targets:         base.Targets,
	}
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return domain.Settings{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}

	return domain.Settings{
		Enabled:         fs.Enabled,
		BotToken:        fs.BotToken,
		CooldownMinutes: fs.CooldownMinutes,
		QuietHours:      fs.QuietHours,
		Targets:         fs.Targets,
	}, nil
}

// ApplyFile loads path on top of the current settings and stores the result.
func (s *Service) ApplyFile(ctx context.Context, path string) error {
	next, err := LoadFile(path, s.Current())
	if err != nil {
		return err
	}
	if _, err := s.Update(ctx, next); err != nil {
		return fmt.Errorf("apply settings file: %w", err)
	}
	return nil
}

// Watch re-applies path whenever it changes, until ctx is cancelled. The
// parent directory is watched so that editors replacing the file by rename
// are still seen.
func (s *Service) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	target := filepath.Clean(path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := s.ApplyFile(ctx, path); err != nil {
			s.logger.Error("settings file reload failed", zap.String("path", path), zap.Error(err))
			return
		}
		s.logger.Info("settings file reloaded", zap.String("path", path))
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				reload()
				continue
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
