package repository

import (
	"context"
	"time"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// Store is the transactional store. Repositories obtained from a Store
// returned by WithTx share that transaction.
// The pgx implementation is in pg_store.go.
// Tests use a hand-written mock (mock_store.go).
type Store interface {
	Products() ProductRepository
	Movements() MovementRepository
	Notifications() NotificationRepository
	Settings() SettingsRepository

	// WithTx runs fn atomically. Calling WithTx on a Store that is already
	// inside a transaction reuses it.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	// GetForUpdate reads the row and locks it until the enclosing
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context, page, limit int) ([]*domain.Product, int, error)
	UpdateStock(ctx context.Context, p *domain.Product) error
	UpdateSafetyStock(ctx context.Context, id string, safetyStock int) error
}

type MovementRepository interface {
	Create(ctx context.Context, m *domain.Movement) error
	GetForUpdate(ctx context.Context, id string) (*domain.Movement, error)
	UpdateQuantity(ctx context.Context, id string, quantity int, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.NotificationFilter) ([]*domain.Notification, int, error)

	// LastSent returns the most recently sent notification for the
	// product and channel, or ErrNotFound.
	LastSent(ctx context.Context, productID string, channel domain.Channel) (*domain.Notification, error)
	// FindDuePending returns unsent records with retry_at <= now, oldest
	// retry_at first.
	FindDuePending(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)

	Reschedule(ctx context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error
	MarkSent(ctx context.Context, id string, sentAt time.Time, retryCount int) error
	MarkAborted(ctx context.Context, id string, retryCount int) error
	// RevertSent returns a sent record whose delivery failed everywhere to
	// pending. Records that are not sent are left alone (ErrNotFound).
	RevertSent(ctx context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error

	// LockKey serialises callers using the same key until the enclosing
	// transaction ends.
	LockKey(ctx context.Context, key string) error
}

type SettingsRepository interface {
	// Get returns the stored settings or ErrNotFound.
	Get(ctx context.Context) (*domain.Settings, error)
	Save(ctx context.Context, s *domain.Settings) error
}
