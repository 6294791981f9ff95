package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/policy"
	"github.com/notifyhub/stock-alerts/internal/provider"
	"github.com/notifyhub/stock-alerts/internal/ratelimiter"
	"github.com/notifyhub/stock-alerts/internal/repository"
)

// DeferredPrefix marks the stored message of a deferred notification.
const DeferredPrefix = "[deferred] "

// Outcome is the result of re-processing a deferred notification.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeAborted     Outcome = "aborted"
)

// Trigger is a request to notify.
type Trigger struct {
	ProductID string // empty for manual notifications
	Channel   domain.Channel
	Level     domain.Level
	Message   string
	DedupKey  string
}

// DispatchResult carries the policy decision and the record written for it:
// Alert when the notification was sent, Pending when it was deferred.
type DispatchResult struct {
	Decision policy.Decision      `json:"decision"`
	Alert    *domain.Notification `json:"alert,omitempty"`
	Pending  *domain.Notification `json:"pending,omitempty"`
}

// DispatchHooks are optional metric callbacks. Nil fields are skipped.
type DispatchHooks struct {
	OnDecision func(reason domain.Reason)
	OnDelivery func(ch domain.Channel, ok bool, latency time.Duration)
}

// Dispatcher records notifications and delivers them through the channel
// adapters. Delivery always happens after the record is committed and never
// fails the caller's business operation.
type Dispatcher struct {
	store       repository.Store
	policy      *policy.Policy
	settings    policy.SettingsProvider
	channels    map[domain.Channel]provider.Channel
	limiter     *ratelimiter.ChannelLimiters
	maxAttempts int
	hooks       DispatchHooks
	logger      *zap.Logger
	now         func() time.Time
}

func NewDispatcher(
	store repository.Store,
	pol *policy.Policy,
	settings policy.SettingsProvider,
	channels map[domain.Channel]provider.Channel,
	limiter *ratelimiter.ChannelLimiters,
	maxAttempts int,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		policy:      pol,
		settings:    settings,
		channels:    channels,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) SetHooks(h DispatchHooks) { d.hooks = h }

// WithClock overrides the clock. Intended for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// MaxAttempts is the retry budget of a deferred notification.
func (d *Dispatcher) MaxAttempts() int { return d.maxAttempts }

// Dispatch decides and records a notification, then delivers it when the
// policy allows. Only validation and store errors are returned; delivery
// failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) (*DispatchResult, error) {
	if !t.Channel.IsValid() {
		return nil, domain.ErrInvalidChannel
	}
	if !t.Level.IsValid() {
		return nil, domain.ErrInvalidLevel
	}
	if strings.TrimSpace(t.Message) == "" {
		return nil, domain.ErrEmptyMessage
	}

	now := d.now()
	res := &DispatchResult{}

	err := d.store.WithTx(ctx, func(tx repository.Store) error {
		// Serialise decide+insert per key so concurrent triggers cannot
		// both pass the cooldown check.
		if t.DedupKey != "" {
			if err := tx.Notifications().LockKey(ctx, t.DedupKey); err != nil {
				return err
			}
		}

		dec, err := d.policy.WithHistory(tx.Notifications()).Decide(ctx, policy.Params{
			ProductID: t.ProductID,
			Channel:   t.Channel,
			Level:     t.Level,
			Now:       now,
		})
		if err != nil {
			return err
		}
		res.Decision = dec

		n := &domain.Notification{
			ID:        uuid.New().String(),
			ProductID: optional(t.ProductID),
			Level:     t.Level,
			Channel:   t.Channel,
			Message:   t.Message,
			DedupKey:  optional(t.DedupKey),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if dec.CanSend {
			n.SentAt = &now
			res.Alert = n
		} else {
			reason := dec.Reason
			n.Message = DeferredPrefix + t.Message
			n.RetryAt = dec.NextAttemptAt
			n.RetryReason = &reason
			res.Pending = n
		}

		if err := tx.Notifications().Create(ctx, n); err != nil {
			return fmt.Errorf("persist notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.hooks.OnDecision != nil {
		d.hooks.OnDecision(res.Decision.Reason)
	}

	if res.Alert == nil {
		d.logger.Info("notification deferred",
			zap.String("id", res.Pending.ID),
			zap.String("product_id", t.ProductID),
			zap.String("reason", string(res.Decision.Reason)),
			zap.Timep("retry_at", res.Pending.RetryAt),
		)
		return res, nil
	}

	// The record is committed; a disconnecting client must not cut delivery short.
	rep := d.deliver(context.WithoutCancel(ctx), t.Channel, t.Message)
	if rep.err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("id", res.Alert.ID),
			zap.String("product_id", t.ProductID),
			zap.Int("targets", rep.attempted),
			zap.Int("failed", rep.failed),
			zap.Error(rep.err),
		)
	}
	return res, nil
}

// ProcessPendingAlert re-evaluates a deferred notification. A record whose
// retry budget is spent is aborted without consulting the policy. When the
// policy allows, the record is marked sent under the dedup-key lock and
// delivered after commit, the same order Dispatch uses. If delivery then fails
// for every target the record is returned to pending with reason error and the
// delivery error is returned for the caller to reschedule.
func (d *Dispatcher) ProcessPendingAlert(ctx context.Context, id string) (Outcome, error) {
	now := d.now()

	var (
		outcome Outcome
		claimed *domain.Notification
	)
	err := d.store.WithTx(ctx, func(tx repository.Store) error {
		n, err := tx.Notifications().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Notifications().LockKey(ctx, lockKey(n)); err != nil {
			return err
		}

		switch n.State() {
		case domain.StateSent:
			outcome = OutcomeSent
			return nil
		case domain.StateAborted:
			outcome = OutcomeAborted
			return nil
		}

		if n.RetryCount >= d.maxAttempts {
			outcome = OutcomeAborted
			return tx.Notifications().MarkAborted(ctx, n.ID, n.RetryCount)
		}

		dec, err := d.policy.WithHistory(tx.Notifications()).Decide(ctx, policy.Params{
			ProductID: deref(n.ProductID),
			Channel:   n.Channel,
			Level:     n.Level,
			Now:       now,
		})
		if err != nil {
			return err
		}
		if d.hooks.OnDecision != nil {
			d.hooks.OnDecision(dec.Reason)
		}

		if !dec.CanSend {
			outcome = OutcomeRescheduled
			return tx.Notifications().Reschedule(ctx, n.ID, *dec.NextAttemptAt, dec.Reason, n.RetryCount+1)
		}

		// Visible to the cooldown check of any dispatch that takes the
		// lock after this commit.
		if err := tx.Notifications().MarkSent(ctx, n.ID, now, n.RetryCount+1); err != nil {
			return fmt.Errorf("mark notification %s sent: %w", n.ID, err)
		}
		outcome = OutcomeSent
		claimed = n
		return nil
	})
	if err != nil {
		return "", err
	}
	if claimed == nil {
		return outcome, nil
	}

	rep := d.deliver(context.WithoutCancel(ctx), claimed.Channel, strings.TrimPrefix(claimed.Message, DeferredPrefix))
	if rep.err == nil {
		return OutcomeSent, nil
	}
	if rep.failed < rep.attempted {
		d.logger.Warn("notification partially delivered",
			zap.String("id", claimed.ID),
			zap.Int("targets", rep.attempted),
			zap.Int("failed", rep.failed),
			zap.Error(rep.err),
		)
		return OutcomeSent, nil
	}

	deliverErr := fmt.Errorf("deliver notification %s: %w", claimed.ID, rep.err)
	if err := d.revertClaim(ctx, claimed, now); err != nil {
		d.logger.Error("could not return undelivered notification to pending",
			zap.String("id", claimed.ID),
			zap.Error(err),
		)
		return "", multierr.Append(deliverErr, err)
	}
	return "", deliverErr
}

// revertClaim undoes the sent mark of an undelivered record, keeping its
// original retry count.
func (d *Dispatcher) revertClaim(ctx context.Context, n *domain.Notification, now time.Time) error {
	ctx = context.WithoutCancel(ctx)
	return d.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Notifications().LockKey(ctx, lockKey(n)); err != nil {
			return err
		}
		return tx.Notifications().RevertSent(ctx, n.ID, now, domain.ReasonError, n.RetryCount)
	})
}

type deliveryReport struct {
	attempted int
	failed    int
	err       error
}

// deliver sends text to every enabled target concurrently. A disabled
// channel or a missing credential delivers nothing and is not an error.
func (d *Dispatcher) deliver(ctx context.Context, ch domain.Channel, text string) deliveryReport {
	s := d.settings.Current()
	if !s.Enabled || !s.HasCredential() {
		d.logger.Debug("delivery skipped: channel disabled or credential missing",
			zap.String("channel", string(ch)))
		return deliveryReport{}
	}
	targets := s.EnabledTargets()
	if len(targets) == 0 {
		return deliveryReport{}
	}

	adapter, ok := d.channels[ch]
	if !ok {
		return deliveryReport{
			attempted: len(targets),
			failed:    len(targets),
			err:       fmt.Errorf("no adapter for channel %q", ch),
		}
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target domain.Target) {
			defer wg.Done()
			if err := d.limiter.Wait(ctx, ch); err != nil {
				errs[i] = fmt.Errorf("target %s: rate limiter: %w", target.Destination, err)
				return
			}
			start := time.Now()
			err := adapter.Send(ctx, s.BotToken, target.Destination, text)
			if d.hooks.OnDelivery != nil {
				d.hooks.OnDelivery(ch, err == nil, time.Since(start))
			}
			if err != nil {
				errs[i] = fmt.Errorf("target %s: %w", target.Destination, err)
			}
		}(i, target)
	}
	wg.Wait()

	rep := deliveryReport{attempted: len(targets)}
	for _, err := range errs {
		if err != nil {
			rep.failed++
		}
	}
	rep.err = multierr.Combine(errs...)
	return rep
}

// lockKey is the advisory lock shared with Dispatch for the same trigger.
func lockKey(n *domain.Notification) string {
	if n.DedupKey != nil && *n.DedupKey != "" {
		return *n.DedupKey
	}
	return "notification:" + n.ID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
