package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/policy"
	"github.com/notifyhub/stock-alerts/internal/provider"
	"github.com/notifyhub/stock-alerts/internal/ratelimiter"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
	"github.com/notifyhub/stock-alerts/internal/worker"
)

var now = time.Date(2026, time.March, 11, 7, 0, 0, 0, time.UTC)

var cfg = worker.Config{
	Interval:      time.Second,
	BatchSize:     10,
	MaxAttempts:   5,
	FallbackDelay: 5 * time.Minute,
}

// fakeProcessor records processed ids and returns the configured result.
type fakeProcessor struct {
	mu      sync.Mutex
	ids     []string
	outcome service.Outcome
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (p *fakeProcessor) ProcessPendingAlert(_ context.Context, id string) (service.Outcome, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return p.outcome, p.err
}

func (p *fakeProcessor) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func seedPending(t *testing.T, store *repository.MockStore, id string, retryAt time.Time, retryCount int) {
	t.Helper()
	reason := domain.ReasonQuietHours
	pid := "p1"
	require.NoError(t, store.Notifications().Create(context.Background(), &domain.Notification{
		ID:          id,
		ProductID:   &pid,
		Level:       domain.LevelWarning,
		Channel:     domain.ChannelTelegram,
		Message:     service.DeferredPrefix + "stock low",
		RetryAt:     &retryAt,
		RetryReason: &reason,
		RetryCount:  retryCount,
		CreatedAt:   retryAt.Add(-8 * time.Hour),
		UpdatedAt:   retryAt.Add(-8 * time.Hour),
	}))
}

func newWorker(store *repository.MockStore, p worker.Processor) *worker.RetryWorker {
	return worker.NewRetryWorker(store.Notifications(), p, cfg, zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func TestRunOnce_ProcessesDueInOrderWithinBatch(t *testing.T) {
	store := repository.NewMockStore()
	for i := 12; i >= 1; i-- {
		seedPending(t, store, fmt.Sprintf("n%02d", i), now.Add(-time.Duration(i)*time.Minute), 0)
	}
	seedPending(t, store, "future", now.Add(time.Minute), 0)

	p := &fakeProcessor{outcome: service.OutcomeSent}
	require.NoError(t, newWorker(store, p).RunOnce(context.Background()))

	ids := p.IDs()
	require.Len(t, ids, 10)
	assert.Equal(t, "n12", ids[0])
	assert.Equal(t, "n03", ids[9])
	assert.NotContains(t, ids, "future")
}

func TestRunOnce_FailureIsRescheduledWithFallback(t *testing.T) {
	store := repository.NewMockStore()
	seedPending(t, store, "n1", now.Add(-time.Minute), 1)

	var outcomes []string
	w := newWorker(store, &fakeProcessor{err: errors.New("all targets failed")})
	w.SetHooks(worker.Hooks{OnOutcome: func(o string) { outcomes = append(outcomes, o) }})
	require.NoError(t, w.RunOnce(context.Background()))

	n, err := store.Notifications().GetByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, n.State())
	assert.Equal(t, 2, n.RetryCount)
	require.NotNil(t, n.RetryReason)
	assert.Equal(t, domain.ReasonError, *n.RetryReason)
	require.NotNil(t, n.RetryAt)
	assert.Equal(t, now.Add(5*time.Minute), *n.RetryAt)
	assert.Equal(t, []string{worker.OutcomeFailed}, outcomes)
}

func TestRunOnce_FailureOnLastAttemptAborts(t *testing.T) {
	store := repository.NewMockStore()
	seedPending(t, store, "n1", now.Add(-time.Minute), cfg.MaxAttempts-1)

	w := newWorker(store, &fakeProcessor{err: errors.New("boom")})
	require.NoError(t, w.RunOnce(context.Background()))

	n, err := store.Notifications().GetByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAborted, n.State())
	assert.Nil(t, n.RetryAt)
	assert.Equal(t, cfg.MaxAttempts, n.RetryCount)

	// Aborted records are no longer due.
	due, err := store.Notifications().FindDuePending(context.Background(), now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRunOnce_OverlappingScanIsSkipped(t *testing.T) {
	store := repository.NewMockStore()
	seedPending(t, store, "n1", now.Add(-time.Minute), 0)

	p := &fakeProcessor{
		outcome: service.OutcomeSent,
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	var (
		mu    sync.Mutex
		scans []string
	)
	w := newWorker(store, p)
	w.SetHooks(worker.Hooks{OnScan: func(r string) {
		mu.Lock()
		scans = append(scans, r)
		mu.Unlock()
	}})

	done := make(chan error, 1)
	go func() { done <- w.RunOnce(context.Background()) }()
	<-p.entered

	assert.ErrorIs(t, w.RunOnce(context.Background()), worker.ErrScanInProgress)

	close(p.block)
	require.NoError(t, <-done)

	// The flag is released once the scan finishes.
	p.entered = nil
	require.NoError(t, w.RunOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{worker.ScanSkipped, worker.ScanOK, worker.ScanOK}, scans)
}

func TestRunOnce_StoreError(t *testing.T) {
	store := repository.NewMockStore()
	store.FindDuePendingErr = errors.New("db down")

	var scans []string
	w := newWorker(store, &fakeProcessor{})
	w.SetHooks(worker.Hooks{OnScan: func(r string) { scans = append(scans, r) }})

	assert.Error(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{worker.ScanError}, scans)
}

func TestStartRunsImmediateScanAndStop(t *testing.T) {
	store := repository.NewMockStore()
	seedPending(t, store, "n1", now.Add(-time.Minute), 0)
	p := &fakeProcessor{outcome: service.OutcomeRescheduled}

	w := newWorker(store, p)
	require.NoError(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(p.IDs()) >= 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

type staticSettings domain.Settings

func (s staticSettings) Current() domain.Settings { return domain.Settings(s) }

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
}

func (c *recordingChannel) Send(_ context.Context, _, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func TestRetryWorker_DeliversAfterQuietHours(t *testing.T) {
	store := repository.NewMockStore()
	s := staticSettings{
		Enabled:         true,
		BotToken:        "tok",
		CooldownMinutes: 60,
		QuietHours:      "22-07",
		Targets:         []domain.Target{{Destination: "-100", Enabled: true}},
	}
	ch := &recordingChannel{}
	clock := time.Date(2026, time.March, 10, 23, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return clock }

	d := service.NewDispatcher(
		store,
		policy.New(s, store.Notifications(), time.UTC),
		s,
		map[domain.Channel]provider.Channel{domain.ChannelTelegram: ch},
		ratelimiter.New(0),
		cfg.MaxAttempts,
		zap.NewNop(),
	).WithClock(nowFn)
	w := worker.NewRetryWorker(store.Notifications(), d, cfg, zap.NewNop()).WithClock(nowFn)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, service.Trigger{
		ProductID: "p1", Channel: domain.ChannelTelegram, Level: domain.LevelWarning,
		Message: "stock low", DedupKey: "low-stock:p1:telegram",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	// Still night: nothing due yet.
	clock = time.Date(2026, time.March, 11, 3, 0, 0, 0, time.UTC)
	require.NoError(t, w.RunOnce(ctx))
	assert.Empty(t, ch.sent)

	clock = time.Date(2026, time.March, 11, 7, 0, 0, 0, time.UTC)
	require.NoError(t, w.RunOnce(ctx))

	n, err := store.Notifications().GetByID(ctx, res.Pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, n.State())
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, []string{"stock low"}, ch.sent)
}

func TestStopWaitsForStartupScan(t *testing.T) {
	store := repository.NewMockStore()
	seedPending(t, store, "n1", now.Add(-time.Minute), 0)
	p := &fakeProcessor{
		outcome: service.OutcomeSent,
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}

	w := newWorker(store, p)
	require.NoError(t, w.Start(context.Background()))
	<-p.entered

	stopped := make(chan struct{})
	go func() {
		w.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the startup scan was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(p.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the startup scan finished")
	}
	assert.Equal(t, []string{"n1"}, p.IDs())
}
