package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

const notificationColumns = `id, product_id, level, channel, message, dedup_key,
	sent_at, retry_at, retry_reason, retry_count, created_at, updated_at`

type pgNotificationRepository struct {
	db dbtx
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications
			(id, product_id, level, channel, message, dedup_key,
			 sent_at, retry_at, retry_reason, retry_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.ID, n.ProductID, n.Level, n.Channel, n.Message, n.DedupKey,
		n.SentAt, n.RetryAt, n.RetryReason, n.RetryCount, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.NotificationFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM notifications%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (r *pgNotificationRepository) LastSent(ctx context.Context, productID string, channel domain.Channel) (*domain.Notification, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE product_id = $1 AND channel = $2 AND sent_at IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT 1`, productID, channel)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last sent notification: %w", err)
	}
	return n, nil
}

func (r *pgNotificationRepository) FindDuePending(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE sent_at IS NULL
		  AND retry_at IS NOT NULL
		  AND retry_at <= $1
		ORDER BY retry_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due pending: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) Reschedule(ctx context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error {
	return r.update(ctx, "reschedule notification", `
		UPDATE notifications
		SET retry_at = $1, retry_reason = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $4 AND sent_at IS NULL`, retryAt, reason, retryCount, id)
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, retryCount int) error {
	return r.update(ctx, "mark notification sent", `
		UPDATE notifications
		SET sent_at = $1, retry_at = NULL, retry_reason = NULL, retry_count = $2, updated_at = NOW()
		WHERE id = $3`, sentAt, retryCount, id)
}

func (r *pgNotificationRepository) MarkAborted(ctx context.Context, id string, retryCount int) error {
	return r.update(ctx, "mark notification aborted", `
		UPDATE notifications
		SET retry_at = NULL, retry_reason = 'aborted', retry_count = $1, updated_at = NOW()
		WHERE id = $2 AND sent_at IS NULL`, retryCount, id)
}

func (r *pgNotificationRepository) RevertSent(ctx context.Context, id string, retryAt time.Time, reason domain.Reason, retryCount int) error {
	return r.update(ctx, "revert sent notification", `
		UPDATE notifications
		SET sent_at = NULL, retry_at = $1, retry_reason = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $4 AND sent_at IS NOT NULL`, retryAt, reason, retryCount, id)
}

func (r *pgNotificationRepository) LockKey(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock %q: %w", key, err)
	}
	return nil
}

func (r *pgNotificationRepository) update(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- helpers ----

// scanNotification reads a single notification row from any pgx row type.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.ProductID, &n.Level, &n.Channel, &n.Message, &n.DedupKey,
		&n.SentAt, &n.RetryAt, &n.RetryReason, &n.RetryCount,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a NotificationFilter.
func buildListWhere(f domain.NotificationFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.State != nil {
		switch *f.State {
		case domain.StateSent:
			conditions = append(conditions, "sent_at IS NOT NULL")
		case domain.StateAborted:
			conditions = append(conditions, "sent_at IS NULL AND retry_reason = 'aborted'")
		case domain.StatePending:
			conditions = append(conditions, "sent_at IS NULL AND retry_at IS NOT NULL")
		}
	}
	if f.ProductID != nil {
		add("product_id = $%d", *f.ProductID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
