// Package ledger owns the product stock counters. Every counter change goes
// through Adjust so that Remaining and Status never drift from the counters.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/repository"
)

// Result is the outcome of a counter mutation.
type Result struct {
	Product        *domain.Product
	PreviousStatus domain.StockStatus
}

// BecameLow reports a transition into low from any other status.
func (r *Result) BecameLow() bool {
	return r.PreviousStatus != domain.StatusLow && r.Product.Status == domain.StatusLow
}

type Ledger struct {
	store repository.Store
	now   func() time.Time
}

func New(store repository.Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock used for UpdatedAt. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Adjust applies delta to the product's counters and rewrites the derived
// fields. When tx is non-nil the work joins that transaction; otherwise
// Adjust opens its own.
func (l *Ledger) Adjust(ctx context.Context, tx repository.Store, productID string, delta domain.StockDelta) (*Result, error) {
	return l.mutate(ctx, tx, productID, func(p *domain.Product) error {
		in := p.TotalIn + delta.Inbound
		out := p.TotalOut + delta.Outbound
		ret := p.TotalReturn + delta.Return
		if in < 0 || out < 0 || ret < 0 {
			return fmt.Errorf("adjust product %s: %w", productID, domain.ErrNegativeCounter)
		}
		p.TotalIn, p.TotalOut, p.TotalReturn = in, out, ret
		return nil
	})
}

// Recalculate rewrites Remaining and Status from the stored counters.
func (l *Ledger) Recalculate(ctx context.Context, tx repository.Store, productID string) (*Result, error) {
	return l.mutate(ctx, tx, productID, func(*domain.Product) error { return nil })
}

func (l *Ledger) mutate(ctx context.Context, tx repository.Store, productID string, change func(p *domain.Product) error) (*Result, error) {
	scope := tx
	if scope == nil {
		scope = l.store
	}

	var res *Result
	err := scope.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Products().GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		prev := p.Status

		if err := change(p); err != nil {
			return err
		}
		apply(p)
		p.UpdatedAt = l.now()

		if err := tx.Products().UpdateStock(ctx, p); err != nil {
			return err
		}
		res = &Result{Product: p, PreviousStatus: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
