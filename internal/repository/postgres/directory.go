package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

const (
	townColumns = `
		t.id, t.slug, t.name, t.created_at, t.updated_at,
		(SELECT COUNT(*) FROM persons p WHERE p.town_slug = t.slug) AS person_count`
	personColumns = `id, town_slug, slug, name, bio, created_at, updated_at`
)

type directoryRepository struct {
	BaseRepository
}

func NewDirectoryRepository(base BaseRepository) repository.DirectoryRepository {
	return &directoryRepository{base}
}

func (r *directoryRepository) GetTown(ctx context.Context, slug string) (*model.Town, error) {
	query := `SELECT` + townColumns + ` FROM towns t WHERE t.slug = ?`

	var town model.Town
	if err := r.db.GetContext(ctx, &town, r.q(query), slug); err != nil {
		return nil, fmt.Errorf("failed to get town %s: %w", slug, notFound(err))
	}
	return &town, nil
}

func (r *directoryRepository) ListTowns(ctx context.Context) ([]model.Town, error) {
	query := `SELECT` + townColumns + ` FROM towns t ORDER BY t.name, t.slug`

	towns := []model.Town{}
	if err := r.db.SelectContext(ctx, &towns, r.q(query)); err != nil {
		return nil, fmt.Errorf("failed to list towns: %w", err)
	}
	return towns, nil
}

func (r *directoryRepository) UpsertTown(ctx context.Context, town *model.Town) error {
	query := `
		INSERT INTO towns (id, slug, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE
		SET name = excluded.name, updated_at = excluded.updated_at
	`

	now := dbTime(time.Now())
	if town.ID == uuid.Nil {
		town.ID = uuid.New()
	}
	if _, err := r.db.ExecContext(ctx, r.q(query), town.ID, town.Slug, town.Name, now, now); err != nil {
		return fmt.Errorf("failed to upsert town %s: %w", town.Slug, err)
	}

	stored, err := r.GetTown(ctx, town.Slug)
	if err != nil {
		return err
	}
	*town = *stored
	return nil
}

func (r *directoryRepository) GetPerson(ctx context.Context, townSlug, slug string) (*model.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE town_slug = ? AND slug = ?`

	var person model.Person
	if err := r.db.GetContext(ctx, &person, r.q(query), townSlug, slug); err != nil {
		return nil, fmt.Errorf("failed to get person %s/%s: %w", townSlug, slug, notFound(err))
	}
	return &person, nil
}

func (r *directoryRepository) GetPersonByID(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE id = ?`

	var person model.Person
	if err := r.db.GetContext(ctx, &person, r.q(query), id); err != nil {
		return nil, fmt.Errorf("failed to get person %s: %w", id, notFound(err))
	}
	return &person, nil
}

func (r *directoryRepository) ListPersonsByTown(ctx context.Context, townSlug string) ([]model.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE town_slug = ? ORDER BY name, slug`

	persons := []model.Person{}
	if err := r.db.SelectContext(ctx, &persons, r.q(query), townSlug); err != nil {
		return nil, fmt.Errorf("failed to list persons of %s: %w", townSlug, err)
	}
	return persons, nil
}

func (r *directoryRepository) RecentPersons(ctx context.Context, limit int) ([]model.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons ORDER BY created_at DESC, slug LIMIT ?`

	persons := []model.Person{}
	if err := r.db.SelectContext(ctx, &persons, r.q(query), limit); err != nil {
		return nil, fmt.Errorf("failed to list recent persons: %w", err)
	}
	return persons, nil
}

func (r *directoryRepository) UpsertPerson(ctx context.Context, person *model.Person) (string, error) {
	var previousTown string
	now := dbTime(time.Now())

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var existing model.Person
		var err error
		if person.ID != uuid.Nil {
			err = tx.GetContext(ctx, &existing, tx.Rebind(`SELECT `+personColumns+` FROM persons WHERE id = ?`), person.ID)
		} else {
			err = tx.GetContext(ctx, &existing, tx.Rebind(`SELECT `+personColumns+` FROM persons WHERE town_slug = ? AND slug = ?`), person.TownSlug, person.Slug)
		}

		switch {
		case errors.Is(notFound(err), repository.ErrNotFound):
			if person.ID == uuid.Nil {
				person.ID = uuid.New()
			}
			person.CreatedAt = now
			person.UpdatedAt = now
			_, err = tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO persons (id, town_slug, slug, name, bio, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`), person.ID, person.TownSlug, person.Slug, person.Name, person.Bio, person.CreatedAt, person.UpdatedAt)
			return err
		case err != nil:
			return err
		}

		previousTown = existing.TownSlug
		person.ID = existing.ID
		person.CreatedAt = existing.CreatedAt
		person.UpdatedAt = now
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE persons
			SET town_slug = ?, slug = ?, name = ?, bio = ?, updated_at = ?
			WHERE id = ?
		`), person.TownSlug, person.Slug, person.Name, person.Bio, person.UpdatedAt, person.ID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert person %s/%s: %w", person.TownSlug, person.Slug, err)
	}
	return previousTown, nil
}
