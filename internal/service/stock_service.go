package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/ledger"
	"github.com/notifyhub/stock-alerts/internal/repository"
)

// Notifier is the part of Dispatcher the stock services use.
type Notifier interface {
	Dispatch(ctx context.Context, t Trigger) (*DispatchResult, error)
}

// StockService owns products and stock movements. Every write runs in one
// transaction with the matching ledger adjustment; a transition into low
// stock is announced after commit.
type StockService struct {
	store    repository.Store
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewStockService(
	store repository.Store,
	l *ledger.Ledger,
	notifier Notifier,
	logger *zap.Logger,
) *StockService {
	return &StockService{
		store:    store,
		ledger:   l,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock. Intended for tests.
func (s *StockService) WithClock(now func() time.Time) *StockService {
	s.now = now
	return s
}

// CreateProduct inserts a product with zero counters. A product with
// positive safety stock and nothing on hand starts as low.
func (s *StockService) CreateProduct(ctx context.Context, req domain.CreateProductRequest) (*domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &domain.Product{
		ID:          uuid.New().String(),
		Name:        req.Name,
		SKU:         req.SKU,
		SafetyStock: req.SafetyStock,
		Status:      domain.StatusNormal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var res *ledger.Result
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Products().Create(ctx, p); err != nil {
			return err
		}
		var err error
		res, err = s.ledger.Recalculate(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res.Product, nil
}

func (s *StockService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.store.Products().GetByID(ctx, id)
}

func (s *StockService) ListProducts(ctx context.Context, page, limit int) ([]*domain.Product, int, error) {
	return s.store.Products().List(ctx, page, limit)
}

// UpdateSafetyStock changes the threshold and re-derives the status.
func (s *StockService) UpdateSafetyStock(ctx context.Context, id string, safetyStock int) (*domain.Product, error) {
	if safetyStock < 0 {
		return nil, domain.ErrInvalidSafetyStock
	}

	var res *ledger.Result
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Products().GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := tx.Products().UpdateSafetyStock(ctx, id, safetyStock); err != nil {
			return err
		}
		var err error
		res, err = s.ledger.Recalculate(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyIfLow(ctx, res)
	return res.Product, nil
}

// CreateMovement records an inbound, outbound or return movement.
func (s *StockService) CreateMovement(ctx context.Context, req domain.CreateMovementRequest) (*domain.Movement, *domain.Product, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	now := s.now()
	m := &domain.Movement{
		ID:        uuid.New().String(),
		ProductID: req.ProductID,
		Kind:      req.Kind,
		Quantity:  req.Quantity,
		Note:      req.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var res *ledger.Result
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		res, err = s.ledger.Adjust(ctx, tx, m.ProductID, m.Kind.Delta(m.Quantity))
		if err != nil {
			return err
		}
		if err := tx.Movements().Create(ctx, m); err != nil {
			return fmt.Errorf("persist movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifyIfLow(ctx, res)
	return m, res.Product, nil
}

// UpdateMovementQuantity changes a movement's quantity and applies the
// difference to the product counters.
func (s *StockService) UpdateMovementQuantity(ctx context.Context, id string, quantity int) (*domain.Movement, *domain.Product, error) {
	if quantity <= 0 {
		return nil, nil, domain.ErrInvalidQuantity
	}

	var (
		m   *domain.Movement
		res *ledger.Result
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		m, err = tx.Movements().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res, err = s.ledger.Adjust(ctx, tx, m.ProductID, m.Kind.Delta(quantity-m.Quantity))
		if err != nil {
			return err
		}
		m.Quantity = quantity
		m.UpdatedAt = s.now()
		return tx.Movements().UpdateQuantity(ctx, m.ID, m.Quantity, m.UpdatedAt)
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifyIfLow(ctx, res)
	return m, res.Product, nil
}

// DeleteMovement removes a movement and reverses its effect on the counters.
func (s *StockService) DeleteMovement(ctx context.Context, id string) (*domain.Product, error) {
	var res *ledger.Result
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		m, err := tx.Movements().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res, err = s.ledger.Adjust(ctx, tx, m.ProductID, m.Kind.Delta(-m.Quantity))
		if err != nil {
			return err
		}
		return tx.Movements().Delete(ctx, m.ID)
	})
	if err != nil {
		return nil, err
	}

	s.notifyIfLow(ctx, res)
	return res.Product, nil
}

// notifyIfLow dispatches a low-stock alert for a transition into low.
// Errors are logged only.
func (s *StockService) notifyIfLow(ctx context.Context, res *ledger.Result) {
	if !res.BecameLow() {
		return
	}
	p := res.Product

	_, err := s.notifier.Dispatch(ctx, Trigger{
		ProductID: p.ID,
		Channel:   domain.ChannelTelegram,
		Level:     domain.LevelWarning,
		Message:   LowStockMessage(p),
		DedupKey:  LowStockDedupKey(p.ID, domain.ChannelTelegram),
	})
	if err != nil {
		s.logger.Error("low stock notification failed",
			zap.String("product_id", p.ID),
			zap.Error(err),
		)
	}
}

func LowStockMessage(p *domain.Product) string {
	name := p.Name
	if p.SKU != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, p.SKU)
	}
	return fmt.Sprintf("Low stock: %s has %d left, safety stock %d", name, p.Remaining, p.SafetyStock)
}

func LowStockDedupKey(productID string, ch domain.Channel) string {
	return fmt.Sprintf("low-stock:%s:%s", productID, ch)
}
