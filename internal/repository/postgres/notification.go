package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

const notificationColumns = `
	id, user_id, to_email, person_id, person_history_id, subject, html_content,
	text_content, status, retry_count, scheduled_for, sent_at, delivered_at,
	opened_at, error_message, bounce_type, bounce_sub_type, tracking_enabled,
	created_at, updated_at`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.EmailNotification) error {
	query := `
		INSERT INTO email_notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := dbTime(time.Now())
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = now
	}
	n.ScheduledFor = dbTime(n.ScheduledFor)

	_, err := r.db.ExecContext(ctx, r.q(query),
		n.ID,
		n.UserID,
		n.ToEmail,
		n.PersonID,
		n.PersonHistoryID,
		n.Subject,
		n.HTMLContent,
		n.TextContent,
		n.Status,
		n.RetryCount,
		n.ScheduledFor,
		dbTimePtr(n.SentAt),
		dbTimePtr(n.DeliveredAt),
		dbTimePtr(n.OpenedAt),
		n.ErrorMessage,
		n.BounceType,
		n.BounceSubType,
		n.TrackingEnabled,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create email notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.EmailNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM email_notifications WHERE id = ?`

	var n model.EmailNotification
	if err := r.db.GetContext(ctx, &n, r.q(query), id); err != nil {
		return nil, fmt.Errorf("failed to get email notification %s: %w", id, notFound(err))
	}
	return &n, nil
}

func (r *notificationRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.EmailNotification, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := r.in(`SELECT `+notificationColumns+` FROM email_notifications WHERE id IN (?) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, err
	}

	var rows []*model.EmailNotification
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get email notifications: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) List(ctx context.Context, filter model.EmailFilter) ([]*model.EmailNotification, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PersonID != nil {
		where = append(where, "person_id = ?")
		args = append(args, *filter.PersonID)
	}
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, r.q(`SELECT COUNT(*) FROM email_notifications`+clause), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count email notifications: %w", err)
	}

	query := `SELECT ` + notificationColumns + ` FROM email_notifications` + clause +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	pageArgs := append(append([]interface{}{}, args...), filter.Limit(), filter.Offset())

	rows := []*model.EmailNotification{}
	if err := r.db.SelectContext(ctx, &rows, r.q(query), pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list email notifications: %w", err)
	}
	return rows, total, nil
}

func (r *notificationRepository) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := r.in(`DELETE FROM email_notifications WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete email notifications: %w", err)
	}
	return affected(res)
}

func (r *notificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.EmailNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM email_notifications
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT ?
	`

	rows := []*model.EmailNotification{}
	if err := r.db.SelectContext(ctx, &rows, r.q(query), model.EmailStatusQueued, dbTime(now), limit); err != nil {
		return nil, fmt.Errorf("failed to list due email notifications: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) UpdateIfStatus(ctx context.Context, n *model.EmailNotification, from model.EmailStatus) (bool, error) {
	query := `
		UPDATE email_notifications
		SET status = ?,
			retry_count = ?,
			sent_at = ?,
			delivered_at = ?,
			opened_at = ?,
			error_message = ?,
			bounce_type = ?,
			bounce_sub_type = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	n.UpdatedAt = dbTime(time.Now())
	res, err := r.db.ExecContext(ctx, r.q(query),
		n.Status,
		n.RetryCount,
		dbTimePtr(n.SentAt),
		dbTimePtr(n.DeliveredAt),
		dbTimePtr(n.OpenedAt),
		n.ErrorMessage,
		n.BounceType,
		n.BounceSubType,
		n.UpdatedAt,
		n.ID,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update email notification %s: %w", n.ID, err)
	}
	rows, err := affected(res)
	return rows == 1, err
}

func (r *notificationRepository) RequeueFailed(ctx context.Context, ids []uuid.UUID, maxRetries int, now time.Time) (int64, error) {
	query := `
		UPDATE email_notifications
		SET status = ?, error_message = NULL, updated_at = ?
		WHERE status = ? AND retry_count < ?
	`
	args := []interface{}{model.EmailStatusQueued, dbTime(now), model.EmailStatusFailed, maxRetries}

	var err error
	if ids != nil {
		if len(ids) == 0 {
			return 0, nil
		}
		query += ` AND id IN (?)`
		args = append(args, ids)
		query, args, err = r.in(query, args...)
		if err != nil {
			return 0, err
		}
	} else {
		query = r.q(query)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed email notifications: %w", err)
	}
	return affected(res)
}

func (r *notificationRepository) ForceRequeue(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := r.in(`
		UPDATE email_notifications
		SET status = ?, error_message = NULL, retry_count = 0, updated_at = ?
		WHERE status = ? AND id IN (?)
	`, model.EmailStatusQueued, dbTime(now), model.EmailStatusFailed, ids)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to force requeue email notifications: %w", err)
	}
	return affected(res)
}

func (r *notificationRepository) FailStuck(ctx context.Context, olderThan time.Time, message string, maxRetries int, now time.Time) (int64, error) {
	query := `
		UPDATE email_notifications
		SET status = ?,
			error_message = ?,
			retry_count = CASE WHEN retry_count + 1 > ? THEN ? ELSE retry_count + 1 END,
			updated_at = ?
		WHERE status = ? AND updated_at < ?
	`

	res, err := r.db.ExecContext(ctx, r.q(query),
		model.EmailStatusFailed,
		message,
		maxRetries,
		maxRetries,
		dbTime(now),
		model.EmailStatusSending,
		dbTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stuck email notifications: %w", err)
	}
	return affected(res)
}

func (r *notificationRepository) CountByStatus(ctx context.Context) (map[model.EmailStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS count FROM email_notifications GROUP BY status`

	var rows []struct {
		Status model.EmailStatus `db:"status"`
		Count  int64             `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.q(query)); err != nil {
		return nil, fmt.Errorf("failed to count email notifications by status: %w", err)
	}

	counts := make(map[model.EmailStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
