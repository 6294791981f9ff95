package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of Store used in
// unit tests. Transactions are serialised and a failing WithTx callback
// rolls every map back to its state before the call.
type MockStore struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	seq           int
	products      map[string]*domain.Product
	movements     map[string]*domain.Movement
	notifications map[string]*mockNotification
	settings      *domain.Settings
	lockedKeys    []string

	// Optional error overrides. Set in tests to simulate failure paths.
	CreateNotificationErr error
	FindDuePendingErr     error
	RescheduleErr         error
	MarkSentErr           error
	RevertSentErr         error
	UpdateStockErr        error
	SaveSettingsErr       error
}

type mockNotification struct {
	seq int
	n   domain.Notification
}

func NewMockStore() *MockStore {
	return &MockStore{
		products:      make(map[string]*domain.Product),
		movements:     make(map[string]*domain.Movement),
		notifications: make(map[string]*mockNotification),
	}
}

func (m *MockStore) Products() ProductRepository           { return &mockProductRepository{m} }
func (m *MockStore) Movements() MovementRepository         { return &mockMovementRepository{m} }
func (m *MockStore) Notifications() NotificationRepository { return &mockNotificationRepository{m} }
func (m *MockStore) Settings() SettingsRepository          { return &mockSettingsRepository{m} }

func (m *MockStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(mockTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// AllNotifications returns every stored notification in insertion order.
func (m *MockStore) AllNotifications() []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*mockNotification, 0, len(m.notifications))
	for _, e := range m.notifications {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*domain.Notification, len(entries))
	for i, e := range entries {
		clone := e.n
		out[i] = &clone
	}
	return out
}

// LockedKeys returns the keys passed to LockKey, in call order.
func (m *MockStore) LockedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lockedKeys...)
}

// mockTx is the Store handed to WithTx callbacks. Nested WithTx calls run
// inline on the same transaction.
type mockTx struct {
	*MockStore
}

func (t mockTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

type mockSnapshot struct {
	seq           int
	products      map[string]domain.Product
	movements     map[string]domain.Movement
	notifications map[string]mockNotification
	settings      *domain.Settings
}

func (m *MockStore) snapshot() mockSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := mockSnapshot{
		seq:           m.seq,
		products:      make(map[string]domain.Product, len(m.products)),
		movements:     make(map[string]domain.Movement, len(m.movements)),
		notifications: make(map[string]mockNotification, len(m.notifications)),
	}
	for id, p := range m.products {
		s.products[id] = *p
	}
	for id, mv := range m.movements {
		s.movements[id] = *mv
	}
	for id, n := range m.notifications {
		s.notifications[id] = *n
	}
	if m.settings != nil {
		st := m.settings.Clone()
		s.settings = &st
	}
	return s
}

func (m *MockStore) restore(s mockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = s.seq
	m.products = make(map[string]*domain.Product, len(s.products))
	for id, p := range s.products {
		p := p
		m.products[id] = &p
	}
	m.movements = make(map[string]*domain.Movement, len(s.movements))
	for id, mv := range s.movements {
		mv := mv
		m.movements[id] = &mv
	}
	m.notifications = make(map[string]*mockNotification, len(s.notifications))
	for id, n := range s.notifications {
		n := n
		m.notifications[id] = &n
	}
	m.settings = s.settings
}

// ---- products ----

type mockProductRepository struct{ m *MockStore }

func (r *mockProductRepository) Create(_ context.Context, p *domain.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	clone := *p
	r.m.products[p.ID] = &clone
	return nil
}

func (r *mockProductRepository) GetByID(_ context.Context, id string) (*domain.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *mockProductRepository) GetForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return r.GetByID(ctx, id)
}

func (r *mockProductRepository) List(_ context.Context, page, limit int) ([]*domain.Product, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	all := make([]*domain.Product, 0, len(r.m.products))
	for _, p := range r.m.products {
		clone := *p
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page, limit), len(all), nil
}

func (r *mockProductRepository) UpdateStock(_ context.Context, p *domain.Product) error {
	if r.m.UpdateStockErr != nil {
		return r.m.UpdateStockErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[p.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *p
	r.m.products[p.ID] = &clone
	return nil
}

func (r *mockProductRepository) UpdateSafetyStock(_ context.Context, id string, safetyStock int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SafetyStock = safetyStock
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- movements ----

type mockMovementRepository struct{ m *MockStore }

func (r *mockMovementRepository) Create(_ context.Context, mv *domain.Movement) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[mv.ProductID]; !ok {
		return domain.ErrNotFound
	}
	clone := *mv
	r.m.movements[mv.ID] = &clone
	return nil
}

func (r *mockMovementRepository) GetForUpdate(_ context.Context, id string) (*domain.Movement, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	mv, ok := r.m.movements[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *mv
	return &clone, nil
}

func (r *mockMovementRepository) UpdateQuantity(_ context.Context, id string, quantity int, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	mv, ok := r.m.movements[id]
	if !ok {
		return domain.ErrNotFound
	}
	mv.Quantity = quantity
	mv.UpdatedAt = updatedAt
	return nil
}

func (r *mockMovementRepository) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.movements[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.m.movements, id)
	return nil
}

// ---- notifications ----

type mockNotificationRepository struct{ m *MockStore }

func (r *mockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if r.m.CreateNotificationErr != nil {
		return r.m.CreateNotificationErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.seq++
	r.m.notifications[n.ID] = &mockNotification{seq: r.m.seq, n: *n}
	return nil
}

func (r *mockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	e, ok := r.m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := e.n
	return &clone, nil
}

func (r *mockNotificationRepository) List(_ context.Context, f domain.NotificationFilter) ([]*domain.Notification, int, error) {
	var matched []*domain.Notification
	for _, n := range r.m.AllNotifications() {
		if f.State != nil && n.State() != *f.State {
			continue
		}
		if f.ProductID != nil && (n.ProductID == nil || *n.ProductID != *f.ProductID) {
			continue
		}
		matched = append(matched, n)
	}
	// Newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return paginate(matched, f.Page, f.Limit), len(matched), nil
}

func (r *mockNotificationRepository) LastSent(_ context.Context, productID string, channel domain.Channel) (*domain.Notification, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var last *domain.Notification
	for _, e := range r.m.notifications {
		n := e.n
		if n.SentAt == nil || n.ProductID == nil || *n.ProductID != productID || n.Channel != channel {
			continue
		}
		if last == nil || n.SentAt.After(*last.SentAt) {
			clone := n
			last = &clone
		}
	}
	if last == nil {
		return nil, domain.ErrNotFound
	}
	return last, nil
}

func (r *mockNotificationRepository) FindDuePending(_ context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	if r.m.FindDuePendingErr != nil {
		return nil, r.m.FindDuePendingErr
	}
	var due []*domain.Notification
	for _, n := range r.m.AllNotifications() {
		if n.SentAt == nil && n.RetryAt != nil && !n.RetryAt.After(now) {
			due = append(due, n)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].RetryAt.Before(*due[j].RetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *mockNotificationRepository) Reschedule(_ context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error {
	if r.m.RescheduleErr != nil {
		return r.m.RescheduleErr
	}
	r.m.mu.RLock()
	e, ok := r.m.notifications[id]
	pending := ok && e.n.SentAt == nil
	r.m.mu.RUnlock()
	if !pending {
		return domain.ErrNotFound
	}
	return r.mutate(id, func(n *domain.Notification) {
		n.RetryAt = &retryAt
		n.RetryReason = &reason
		n.RetryCount = retryCount
	})
}

func (r *mockNotificationRepository) MarkSent(_ context.Context, id string, sentAt time.Time, retryCount int) error {
	if r.m.MarkSentErr != nil {
		return r.m.MarkSentErr
	}
	return r.mutate(id, func(n *domain.Notification) {
		n.SentAt = &sentAt
		n.RetryAt = nil
		n.RetryReason = nil
		n.RetryCount = retryCount
	})
}

func (r *mockNotificationRepository) MarkAborted(_ context.Context, id string, retryCount int) error {
	return r.mutate(id, func(n *domain.Notification) {
		if n.SentAt != nil {
			return
		}
		aborted := domain.ReasonAborted
		n.RetryAt = nil
		n.RetryReason = &aborted
		n.RetryCount = retryCount
	})
}

func (r *mockNotificationRepository) RevertSent(_ context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error {
	if r.m.RevertSentErr != nil {
		return r.m.RevertSentErr
	}
	r.m.mu.RLock()
	e, ok := r.m.notifications[id]
	sent := ok && e.n.SentAt != nil
	r.m.mu.RUnlock()
	if !sent {
		return domain.ErrNotFound
	}
	return r.mutate(id, func(n *domain.Notification) {
		n.SentAt = nil
		n.RetryAt = &retryAt
		n.RetryReason = &reason
		n.RetryCount = retryCount
	})
}

func (r *mockNotificationRepository) LockKey(_ context.Context, key string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.lockedKeys = append(r.m.lockedKeys, key)
	return nil
}

func (r *mockNotificationRepository) mutate(id string, fn func(n *domain.Notification)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&e.n)
	e.n.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- settings ----

type mockSettingsRepository struct{ m *MockStore }

func (r *mockSettingsRepository) Get(_ context.Context) (*domain.Settings, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if r.m.settings == nil {
		return nil, domain.ErrNotFound
	}
	s := r.m.settings.Clone()
	return &s, nil
}

func (r *mockSettingsRepository) Save(_ context.Context, s *domain.Settings) error {
	if r.m.SaveSettingsErr != nil {
		return r.m.SaveSettingsErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	clone := s.Clone()
	r.m.settings = &clone
	return nil
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
