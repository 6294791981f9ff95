package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/ledger"
	"github.com/notifyhub/stock-alerts/internal/policy"
	"github.com/notifyhub/stock-alerts/internal/provider"
	"github.com/notifyhub/stock-alerts/internal/ratelimiter"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
	"github.com/notifyhub/stock-alerts/internal/settings"
)

const maxAttempts = 5

type sentMessage struct {
	Credential  string
	Destination string
	Text        string
}

// fakeChannel records every send and fails destinations listed in failFor.
// onSend, when set, runs before the send is recorded, outside the lock.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
	onSend  func(destination string)
}

func (f *fakeChannel) Send(_ context.Context, credential, destination, text string) error {
	if f.onSend != nil {
		f.onSend(destination)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Credential: credential, Destination: destination, Text: text})
	if err, ok := f.failFor[destination]; ok {
		return err
	}
	return nil
}

func (f *fakeChannel) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store      *repository.MockStore
	settings   *settings.Service
	channel    *fakeChannel
	clock      *clock
	dispatcher *service.Dispatcher
	stock      *service.StockService
	decisions  []domain.Reason
}

func enabledSettings() domain.Settings {
	return domain.Settings{
		Enabled:         true,
		BotToken:        "bot-token",
		CooldownMinutes: 60,
		Targets: []domain.Target{
			{Name: "warehouse", Destination: "-100", Enabled: true},
		},
	}
}

func newFixture(t *testing.T, s domain.Settings, now time.Time) *fixture {
	t.Helper()
	store := repository.NewMockStore()
	svc := settings.New(store.Settings(), s, zap.NewNop())
	ch := &fakeChannel{failFor: map[string]error{}}
	clk := &clock{t: now}

	pol := policy.New(svc, store.Notifications(), time.UTC)
	d := service.NewDispatcher(
		store, pol, svc,
		map[domain.Channel]provider.Channel{domain.ChannelTelegram: ch},
		ratelimiter.New(0),
		maxAttempts,
		zap.NewNop(),
	).WithClock(clk.Now)

	f := &fixture{store: store, settings: svc, channel: ch, clock: clk, dispatcher: d}
	var mu sync.Mutex
	d.SetHooks(service.DispatchHooks{
		OnDecision: func(r domain.Reason) {
			mu.Lock()
			f.decisions = append(f.decisions, r)
			mu.Unlock()
		},
	})

	f.stock = service.NewStockService(
		store,
		ledger.New(store).WithClock(clk.Now),
		d,
		zap.NewNop(),
	).WithClock(clk.Now)
	return f
}

func (f *fixture) updateSettings(t *testing.T, mutate func(s *domain.Settings)) {
	t.Helper()
	s := f.settings.Current()
	mutate(&s)
	_, err := f.settings.Update(context.Background(), s)
	require.NoError(t, err)
}

// seedPending stores a deferred notification due at retryAt.
func (f *fixture) seedPending(t *testing.T, id, productID string, retryAt time.Time, retryCount int) *domain.Notification {
	t.Helper()
	reason := domain.ReasonCooldown
	n := &domain.Notification{
		ID:          id,
		Level:       domain.LevelWarning,
		Channel:     domain.ChannelTelegram,
		Message:     service.DeferredPrefix + "stock low",
		RetryAt:     &retryAt,
		RetryReason: &reason,
		RetryCount:  retryCount,
		CreatedAt:   retryAt.Add(-time.Hour),
		UpdatedAt:   retryAt.Add(-time.Hour),
	}
	if productID != "" {
		key := service.LowStockDedupKey(productID, domain.ChannelTelegram)
		n.ProductID = &productID
		n.DedupKey = &key
	}
	require.NoError(t, f.store.Notifications().Create(context.Background(), n))
	return n
}

func (f *fixture) get(t *testing.T, id string) *domain.Notification {
	t.Helper()
	n, err := f.store.Notifications().GetByID(context.Background(), id)
	require.NoError(t, err)
	return n
}

func trigger(productID string) service.Trigger {
	return service.Trigger{
		ProductID: productID,
		Channel:   domain.ChannelTelegram,
		Level:     domain.LevelWarning,
		Message:   "stock low",
		DedupKey:  service.LowStockDedupKey(productID, domain.ChannelTelegram),
	}
}
