package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"festra/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository is the outbox. State transitions enqueue rows;
// the dispatcher claims and marks them out of band.
type NotificationRepository interface {
	Enqueue(ctx context.Context, exec SQLExecutor, n *models.Notification) error

	// ClaimPending atomically claims up to limit pending rows for
	// delivery so two dispatcher passes never double-send.
	ClaimPending(ctx context.Context, limit int) ([]*models.Notification, error)

	MarkSent(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, id int, deliveryErr string) error
}

type postgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) NotificationRepository {
	return &postgresNotificationRepository{db: db}
}

func (r *postgresNotificationRepository) Enqueue(ctx context.Context, exec SQLExecutor, n *models.Notification) error {
	executor := SQLExecutor(r.db)
	if exec != nil {
		executor = exec
	}
	query := `
		INSERT INTO notifications (recipient_id, template, payload, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query, n.RecipientID, n.Template, n.Payload).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	n.Status = models.NotificationPending
	return nil
}

func (r *postgresNotificationRepository) ClaimPending(ctx context.Context, limit int) ([]*models.Notification, error) {
	// SKIP LOCKED keeps concurrent dispatcher passes from claiming the
	// same rows.
	query := `
		UPDATE notifications
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status IN ('pending', 'failed') AND attempts < 5
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, recipient_id, template, payload, status, attempts, last_error, created_at, sent_at`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*models.Notification, 0, limit)
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Template, &n.Payload, &n.Status,
			&n.Attempts, &n.LastError, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return notifications, nil
}

func (r *postgresNotificationRepository) MarkSent(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = NOW(), last_error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %d sent: %w", id, err)
	}
	return checkAffectedRows(result, ErrNotificationNotFound)
}

func (r *postgresNotificationRepository) MarkFailed(ctx context.Context, id int, deliveryErr string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'failed', last_error = $2 WHERE id = $1`, id, deliveryErr)
	if err != nil {
		return fmt.Errorf("failed to mark notification %d failed: %w", id, err)
	}
	return checkAffectedRows(result, ErrNotificationNotFound)
}
