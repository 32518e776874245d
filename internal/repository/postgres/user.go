package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, name, created_at)
		VALUES (?, ?, ?, ?)
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = model.NormalizeEmail(user.Email)
	user.CreatedAt = dbTime(time.Now())

	if _, err := r.db.ExecContext(ctx, r.q(query), user.ID, user.Email, user.Name, user.CreatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT id, email, name, created_at FROM users WHERE id = ?`

	var user model.User
	if err := r.db.GetContext(ctx, &user, r.q(query), id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT id, email, name, created_at FROM users WHERE email = ?`

	var user model.User
	if err := r.db.GetContext(ctx, &user, r.q(query), model.NormalizeEmail(email)); err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", notFound(err))
	}
	return &user, nil
}
