package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

const suppressionColumns = `email, reason, reason_details, source, bounce_type, bounce_sub_type, created_at`

type suppressionRepository struct {
	BaseRepository
}

func NewSuppressionRepository(base BaseRepository) repository.SuppressionRepository {
	return &suppressionRepository{base}
}

// Upsert keeps the original created_at when the address is already listed.
func (r *suppressionRepository) Upsert(ctx context.Context, s *model.EmailSuppression) error {
	query := `
		INSERT INTO email_suppressions (` + suppressionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE
		SET reason = excluded.reason,
			reason_details = excluded.reason_details,
			source = excluded.source,
			bounce_type = excluded.bounce_type,
			bounce_sub_type = excluded.bounce_sub_type
	`

	s.Email = model.NormalizeEmail(s.Email)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = dbTime(s.CreatedAt)

	_, err := r.db.ExecContext(ctx, r.q(query),
		s.Email,
		s.Reason,
		s.ReasonDetails,
		s.Source,
		s.BounceType,
		s.BounceSubType,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert suppression for %s: %w", s.Email, err)
	}
	return nil
}

func (r *suppressionRepository) Delete(ctx context.Context, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM email_suppressions WHERE email = ?`), model.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("failed to delete suppression: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (r *suppressionRepository) Get(ctx context.Context, email string) (*model.EmailSuppression, error) {
	query := `SELECT ` + suppressionColumns + ` FROM email_suppressions WHERE email = ?`

	var s model.EmailSuppression
	if err := r.db.GetContext(ctx, &s, r.q(query), model.NormalizeEmail(email)); err != nil {
		return nil, fmt.Errorf("failed to get suppression: %w", notFound(err))
	}
	return &s, nil
}

func (r *suppressionRepository) Exists(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.q(`SELECT COUNT(*) FROM email_suppressions WHERE email = ?`), model.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return n > 0, nil
}

func (r *suppressionRepository) List(ctx context.Context, filter model.SuppressionFilter) ([]*model.EmailSuppression, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, "(email LIKE ? OR LOWER(COALESCE(reason_details, '')) LIKE ?)")
		pattern := "%" + strings.ToLower(search) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, filter.Reason)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, r.q(`SELECT COUNT(*) FROM email_suppressions`+clause), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count suppressions: %w", err)
	}

	query := `SELECT ` + suppressionColumns + ` FROM email_suppressions` + clause +
		` ORDER BY created_at DESC, email LIMIT ? OFFSET ?`
	pageArgs := append(append([]interface{}{}, args...), filter.Limit(), filter.Offset())

	rows := []*model.EmailSuppression{}
	if err := r.db.SelectContext(ctx, &rows, r.q(query), pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list suppressions: %w", err)
	}
	return rows, total, nil
}
