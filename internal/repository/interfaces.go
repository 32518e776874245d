package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/model"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
	}

	// DirectoryRepository is the authoritative store behind the cache.
	DirectoryRepository interface {
		GetTown(ctx context.Context, slug string) (*model.Town, error)
		ListTowns(ctx context.Context) ([]model.Town, error)
		UpsertTown(ctx context.Context, town *model.Town) error
		GetPerson(ctx context.Context, townSlug, slug string) (*model.Person, error)
		GetPersonByID(ctx context.Context, id uuid.UUID) (*model.Person, error)
		ListPersonsByTown(ctx context.Context, townSlug string) ([]model.Person, error)
		RecentPersons(ctx context.Context, limit int) ([]model.Person, error)
		// UpsertPerson returns the town the person belonged to before the
		// write, or "" for a new person.
		UpsertPerson(ctx context.Context, person *model.Person) (previousTown string, err error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.EmailNotification) error
		Get(ctx context.Context, id uuid.UUID) (*model.EmailNotification, error)
		GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.EmailNotification, error)
		List(ctx context.Context, filter model.EmailFilter) ([]*model.EmailNotification, int64, error)
		Delete(ctx context.Context, ids []uuid.UUID) (int64, error)
		// ListDue returns QUEUED rows scheduled at or before now, oldest first.
		ListDue(ctx context.Context, now time.Time, limit int) ([]*model.EmailNotification, error)
		// UpdateIfStatus writes every mutable column of n only while the
		// stored status is still from. It reports whether the row changed.
		UpdateIfStatus(ctx context.Context, n *model.EmailNotification, from model.EmailStatus) (bool, error)
		// RequeueFailed moves FAILED rows below maxRetries back to QUEUED,
		// optionally restricted to ids.
		RequeueFailed(ctx context.Context, ids []uuid.UUID, maxRetries int, now time.Time) (int64, error)
		// ForceRequeue moves the given FAILED rows to QUEUED regardless of
		// their retry count, which restarts at zero.
		ForceRequeue(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
		// FailStuck fails SENDING rows untouched since olderThan.
		FailStuck(ctx context.Context, olderThan time.Time, message string, maxRetries int, now time.Time) (int64, error)
		CountByStatus(ctx context.Context) (map[model.EmailStatus]int64, error)
	}

	SuppressionRepository interface {
		Upsert(ctx context.Context, s *model.EmailSuppression) error
		Delete(ctx context.Context, email string) (bool, error)
		Get(ctx context.Context, email string) (*model.EmailSuppression, error)
		Exists(ctx context.Context, email string) (bool, error)
		List(ctx context.Context, filter model.SuppressionFilter) ([]*model.EmailSuppression, int64, error)
	}

	TokenRepository interface {
		Create(ctx context.Context, token *model.Token) error
		GetByHash(ctx context.Context, hash string) (*model.Token, error)
		Revoke(ctx context.Context, hash string, at time.Time) (bool, error)
		DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	}

	OptOutRepository interface {
		// Add is idempotent per user and scope.
		Add(ctx context.Context, optOut *model.OptOut) error
		// IsOptedOut is true for an all-persons opt-out or one matching personID.
		IsOptedOut(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (bool, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.OptOut, error)
	}
)
