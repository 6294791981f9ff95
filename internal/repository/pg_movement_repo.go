package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

type pgMovementRepository struct {
	db dbtx
}

func (r *pgMovementRepository) Create(ctx context.Context, m *domain.Movement) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_movements (id, product_id, kind, quantity, note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ProductID, m.Kind, m.Quantity, m.Note, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r *pgMovementRepository) GetForUpdate(ctx context.Context, id string) (*domain.Movement, error) {
	var m domain.Movement
	err := r.db.QueryRow(ctx, `
		SELECT id, product_id, kind, quantity, note, created_at, updated_at
		FROM stock_movements WHERE id = $1 FOR UPDATE`, id).
		Scan(&m.ID, &m.ProductID, &m.Kind, &m.Quantity, &m.Note, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return &m, nil
}

func (r *pgMovementRepository) UpdateQuantity(ctx context.Context, id string, quantity int, updatedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE stock_movements SET quantity = $1, updated_at = $2 WHERE id = $3`,
		quantity, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update movement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgMovementRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM stock_movements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete movement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
