package settings_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/settings"
)

func defaults() domain.Settings {
	return domain.Settings{
		Enabled:         true,
		BotToken:        "env-token",
		CooldownMinutes: 60,
		Targets:         []domain.Target{{Destination: "100", Enabled: true}},
	}
}

func TestService_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds defaults when nothing stored", func(t *testing.T) {
		store := repository.NewMockStore()
		svc := settings.New(store.Settings(), defaults(), zap.NewNop())

		require.NoError(t, svc.Load(ctx))

		stored, err := store.Settings().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "env-token", stored.BotToken)
		assert.False(t, stored.UpdatedAt.IsZero())
		assert.Equal(t, "env-token", svc.Current().BotToken)
	})

	t.Run("stored settings win over defaults", func(t *testing.T) {
		store := repository.NewMockStore()
		require.NoError(t, store.Settings().Save(ctx, &domain.Settings{CooldownMinutes: 5, QuietHours: "22-07"}))
		svc := settings.New(store.Settings(), defaults(), zap.NewNop())

		require.NoError(t, svc.Load(ctx))
		cur := svc.Current()
		assert.Equal(t, 5, cur.CooldownMinutes)
		assert.Equal(t, "22-07", cur.QuietHours)
		assert.False(t, cur.Enabled)
	})

	t.Run("seed failure is reported", func(t *testing.T) {
		store := repository.NewMockStore()
		store.SaveSettingsErr = errors.New("db down")
		svc := settings.New(store.Settings(), defaults(), zap.NewNop())

		assert.Error(t, svc.Load(ctx))
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("persists and swaps", func(t *testing.T) {
		store := repository.NewMockStore()
		svc := settings.New(store.Settings(), defaults(), zap.NewNop())

		next := defaults()
		next.CooldownMinutes = 15
		got, err := svc.Update(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, 15, got.CooldownMinutes)
		assert.Equal(t, 15, svc.Current().CooldownMinutes)

		stored, err := store.Settings().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 15, stored.CooldownMinutes)
	})

	t.Run("redacted token keeps the current one", func(t *testing.T) {
		svc := settings.New(repository.NewMockStore().Settings(), defaults(), zap.NewNop())

		next := svc.Current().Redacted()
		require.Equal(t, settings.RedactedToken, next.BotToken)
		got, err := svc.Update(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, "env-token", got.BotToken)
	})

	t.Run("invalid settings are rejected", func(t *testing.T) {
		svc := settings.New(repository.NewMockStore().Settings(), defaults(), zap.NewNop())

		bad := defaults()
		bad.CooldownMinutes = -1
		_, err := svc.Update(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidSettings)

		bad = defaults()
		bad.Targets = []domain.Target{{Destination: "  ", Enabled: true}}
		_, err = svc.Update(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidSettings)

		assert.Equal(t, 60, svc.Current().CooldownMinutes)
	})

	t.Run("malformed quiet hours are accepted", func(t *testing.T) {
		svc := settings.New(repository.NewMockStore().Settings(), defaults(), zap.NewNop())

		next := defaults()
		next.QuietHours = "late"
		got, err := svc.Update(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, "late", got.QuietHours)
	})

	t.Run("save failure keeps previous snapshot", func(t *testing.T) {
		store := repository.NewMockStore()
		store.SaveSettingsErr = errors.New("db down")
		svc := settings.New(store.Settings(), defaults(), zap.NewNop())

		next := defaults()
		next.Enabled = false
		_, err := svc.Update(ctx, next)
		require.Error(t, err)
		assert.True(t, svc.Current().Enabled)
	})

	t.Run("snapshots are isolated from callers", func(t *testing.T) {
		svc := settings.New(repository.NewMockStore().Settings(), defaults(), zap.NewNop())

		cur := svc.Current()
		cur.Targets[0].Destination = "mutated"
		assert.Equal(t, "100", svc.Current().Targets[0].Destination)
	})
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	t.Run("full document", func(t *testing.T) {
		writeFile(t, path, `
enabled: true
bot_token: "123:abc"
cooldown_minutes: 30
quiet_hours: "22-07"
targets:
  - name: warehouse
    destination: "-100123"
    enabled: true
  - destination: "42"
    enabled: false
`)
		got, err := settings.LoadFile(path, domain.Settings{})
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		assert.Equal(t, "123:abc", got.BotToken)
		assert.Equal(t, 30, got.CooldownMinutes)
		assert.Equal(t, "22-07", got.QuietHours)
		assert.Equal(t, []domain.Target{
			{Name: "warehouse", Destination: "-100123", Enabled: true},
			{Destination: "42", Enabled: false},
		}, got.Targets)
	})

	t.Run("missing keys fall back to base", func(t *testing.T) {
		writeFile(t, path, "quiet_hours: \"01-05\"\n")
		got, err := settings.LoadFile(path, defaults())
		require.NoError(t, err)
		assert.Equal(t, "01-05", got.QuietHours)
		assert.Equal(t, "env-token", got.BotToken)
		assert.Equal(t, 60, got.CooldownMinutes)
	})

	t.Run("bad yaml", func(t *testing.T) {
		writeFile(t, path, "cooldown_minutes: [nope")
		_, err := settings.LoadFile(path, domain.Settings{})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := settings.LoadFile(filepath.Join(dir, "absent.yaml"), domain.Settings{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestService_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, "cooldown_minutes: 10\n")

	svc := settings.New(repository.NewMockStore().Settings(), defaults(), zap.NewNop())
	require.NoError(t, svc.ApplyFile(context.Background(), path))
	require.Equal(t, 10, svc.Current().CooldownMinutes)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, path) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "cooldown_minutes: 25\n")

	assert.Eventually(t, func() bool {
		return svc.Current().CooldownMinutes == 25
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
