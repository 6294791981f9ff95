package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

const productColumns = `id, name, sku, total_in, total_out, total_return,
	remaining, safety_stock, status, created_at, updated_at`

type pgProductRepository struct {
	db dbtx
}

func (r *pgProductRepository) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products
			(id, name, sku, total_in, total_out, total_return,
			 remaining, safety_stock, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.Name, p.SKU, p.TotalIn, p.TotalOut, p.TotalReturn,
		p.Remaining, p.SafetyStock, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *pgProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r *pgProductRepository) GetForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgProductRepository) get(ctx context.Context, query, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepository) List(ctx context.Context, page, limit int) ([]*domain.Product, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *pgProductRepository) UpdateStock(ctx context.Context, p *domain.Product) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET total_in = $1, total_out = $2, total_return = $3,
		    remaining = $4, safety_stock = $5, status = $6, updated_at = $7
		WHERE id = $8`,
		p.TotalIn, p.TotalOut, p.TotalReturn, p.Remaining, p.SafetyStock, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgProductRepository) UpdateSafetyStock(ctx context.Context, id string, safetyStock int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET safety_stock = $1, updated_at = $2 WHERE id = $3`,
		safetyStock, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update safety stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.TotalIn, &p.TotalOut, &p.TotalReturn,
		&p.Remaining, &p.SafetyStock, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
