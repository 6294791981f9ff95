package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
)

// ErrScanInProgress is returned by RunOnce while another scan is running.
var ErrScanInProgress = errors.New("retry scan already in progress")

// Scan results reported through Hooks.OnScan.
const (
	ScanOK      = "ok"
	ScanSkipped = "skipped"
	ScanError   = "error"
)

// OutcomeFailed is reported through Hooks.OnOutcome when processing a
// notification failed and it was rescheduled with the fallback delay.
const OutcomeFailed = "failed"

// Processor re-evaluates one deferred notification. *service.Dispatcher
// satisfies it.
type Processor interface {
	ProcessPendingAlert(ctx context.Context, id string) (service.Outcome, error)
}

type Config struct {
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
	FallbackDelay time.Duration
}

// Hooks are optional metric callbacks. Nil fields are skipped.
type Hooks struct {
	OnScan    func(result string)
	OnOutcome func(outcome string)
}

// RetryWorker polls the database for deferred notifications whose retry_at
// has passed and drives each through the dispatcher again.
//
// Retry times are persisted, so pending work survives restarts. A tick that
// fires while the previous scan is still running is skipped, not queued.
type RetryWorker struct {
	repo      repository.NotificationRepository
	processor Processor
	cfg       Config
	hooks     Hooks
	logger    *zap.Logger
	now       func() time.Time

	cron    *cron.Cron
	running atomic.Bool
	cancel  context.CancelFunc
	startup sync.WaitGroup
}

func NewRetryWorker(
	repo repository.NotificationRepository,
	processor Processor,
	cfg Config,
	logger *zap.Logger,
) *RetryWorker {
	return &RetryWorker{
		repo:      repo,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger))),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger)))),
		),
	}
}

func (w *RetryWorker) SetHooks(h Hooks) { w.hooks = h }

// WithClock overrides the clock. Intended for tests.
func (w *RetryWorker) WithClock(now func() time.Time) *RetryWorker {
	w.now = now
	return w
}

// Start schedules a scan every interval and runs one immediately. Scans
// use a context derived from ctx that Stop cancels.
func (w *RetryWorker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %s", w.cfg.Interval)
	if _, err := w.cron.AddFunc(spec, func() { w.tick(ctx) }); err != nil {
		w.cancel()
		return fmt.Errorf("schedule retry scan %q: %w", spec, err)
	}
	w.cron.Start()

	w.logger.Info("retry worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)
	w.startup.Add(1)
	go func() {
		defer w.startup.Done()
		w.tick(ctx)
	}()
	return nil
}

// Stop cancels in-flight work, releases the timer and waits for a running
// scan, scheduled or the startup one, to return or ctx to expire.
func (w *RetryWorker) Stop(ctx context.Context) {
	w.logger.Info("retry worker stopping")
	if w.cancel != nil {
		w.cancel()
	}
	cronDone := w.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		w.startup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("retry worker stop timed out")
	}
}

// RunOnce performs a single scan. It returns ErrScanInProgress if another
// scan holds the in-flight flag.
func (w *RetryWorker) RunOnce(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		w.report(ScanSkipped)
		return ErrScanInProgress
	}
	defer w.running.Store(false)

	if err := w.scan(ctx); err != nil {
		w.report(ScanError)
		return err
	}
	w.report(ScanOK)
	return nil
}

func (w *RetryWorker) tick(ctx context.Context) {
	err := w.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrScanInProgress):
		w.logger.Debug("retry scan skipped: previous scan still running")
	case err != nil:
		w.logger.Error("retry scan failed", zap.Error(err))
	}
}

func (w *RetryWorker) scan(ctx context.Context) error {
	now := w.now()
	due, err := w.repo.FindDuePending(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("find due notifications: %w", err)
	}

	counts := make(map[string]int)
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		outcome, err := w.processor.ProcessPendingAlert(ctx, n.ID)
		if err != nil {
			outcome = w.handleFailure(ctx, n, now, err)
		}
		counts[string(outcome)]++
		if w.hooks.OnOutcome != nil {
			w.hooks.OnOutcome(string(outcome))
		}
	}

	if len(due) > 0 {
		w.logger.Info("retry scan finished",
			zap.Int("due", len(due)),
			zap.Int("sent", counts[string(service.OutcomeSent)]),
			zap.Int("rescheduled", counts[string(service.OutcomeRescheduled)]),
			zap.Int("aborted", counts[string(service.OutcomeAborted)]),
			zap.Int("failed", counts[OutcomeFailed]),
		)
	}
	return nil
}

// handleFailure reschedules n after the fallback delay, or aborts it once
// the retry budget is spent.
func (w *RetryWorker) handleFailure(ctx context.Context, n *domain.Notification, now time.Time, cause error) service.Outcome {
	count := n.RetryCount + 1
	log := w.logger.With(
		zap.String("id", n.ID),
		zap.Int("retry_count", count),
		zap.NamedError("cause", cause),
	)

	if count >= w.cfg.MaxAttempts {
		if err := w.repo.MarkAborted(ctx, n.ID, count); err != nil {
			log.Error("could not abort notification", zap.Error(err))
		} else {
			log.Error("notification aborted after repeated failures")
		}
		return service.OutcomeAborted
	}

	retryAt := now.Add(w.cfg.FallbackDelay)
	if err := w.repo.Reschedule(ctx, n.ID, retryAt, domain.ReasonError, count); err != nil {
		log.Error("could not reschedule notification", zap.Error(err))
	} else {
		log.Error("notification processing failed, rescheduled", zap.Time("retry_at", retryAt))
	}
	return service.Outcome(OutcomeFailed)
}

func (w *RetryWorker) report(result string) {
	if w.hooks.OnScan != nil {
		w.hooks.OnScan(result)
	}
}
