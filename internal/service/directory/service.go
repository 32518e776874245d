// Package directory serves the public directory pages through the tiered
// cache and keeps it coherent on writes.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/pkg/logger"
)

var (
	ErrInvalidSlug = errors.New("invalid slug")
	ErrUnknownTown = errors.New("unknown town")
)

type Service struct {
	repo  repository.DirectoryRepository
	cache *cache.Manager
	log   *logger.Logger
}

func NewService(repo repository.DirectoryRepository, c *cache.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, cache: c, log: log}
}

func (s *Service) GetPerson(ctx context.Context, town, person string) (model.Person, model.Tier, error) {
	if !cache.ValidSlug(town) || !cache.ValidSlug(person) {
		return model.Person{}, 0, ErrInvalidSlug
	}
	return cache.GetJSON[model.Person](ctx, s.cache, cache.PersonKey(town, person))
}

func (s *Service) GetTown(ctx context.Context, town string) (model.TownPage, model.Tier, error) {
	if !cache.ValidSlug(town) {
		return model.TownPage{}, 0, ErrInvalidSlug
	}
	return cache.GetJSON[model.TownPage](ctx, s.cache, cache.TownKey(town))
}

func (s *Service) ListTowns(ctx context.Context) ([]model.Town, model.Tier, error) {
	return cache.GetJSON[[]model.Town](ctx, s.cache, cache.TownListKey())
}

func (s *Service) GetHomepage(ctx context.Context) (model.Homepage, model.Tier, error) {
	return cache.GetJSON[model.Homepage](ctx, s.cache, cache.HomepageKey())
}

// SaveTown writes the town and then drops every aggregate that shows it.
// An error wrapping cache.ErrInvalidationIncomplete means the write itself
// succeeded.
func (s *Service) SaveTown(ctx context.Context, town *model.Town) error {
	town.Slug = strings.TrimSpace(town.Slug)
	if !cache.ValidSlug(town.Slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, town.Slug)
	}
	if strings.TrimSpace(town.Name) == "" {
		town.Name = town.Slug
	}

	if err := s.repo.UpsertTown(ctx, town); err != nil {
		return err
	}
	return s.cascade(ctx, model.EntityRef{Kind: model.EntityTown, TownSlug: town.Slug})
}

// SavePerson creates or updates a person. Setting an existing person's ID
// with a different town moves them.
func (s *Service) SavePerson(ctx context.Context, person *model.Person) error {
	person.Slug = strings.TrimSpace(person.Slug)
	person.TownSlug = strings.TrimSpace(person.TownSlug)
	if !cache.ValidSlug(person.TownSlug) || !cache.ValidSlug(person.Slug) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidSlug, person.TownSlug, person.Slug)
	}
	if strings.TrimSpace(person.Name) == "" {
		person.Name = person.Slug
	}

	if _, err := s.repo.GetTown(ctx, person.TownSlug); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownTown, person.TownSlug)
		}
		return err
	}

	previous, err := s.repo.UpsertPerson(ctx, person)
	if err != nil {
		return err
	}
	return s.cascade(ctx, model.EntityRef{
		Kind:             model.EntityPerson,
		TownSlug:         person.TownSlug,
		PersonSlug:       person.Slug,
		PreviousTownSlug: previous,
	})
}

func (s *Service) cascade(ctx context.Context, ref model.EntityRef) error {
	if err := s.cache.InvalidateCascade(ctx, ref); err != nil {
		s.log.WithContext(ctx).Error(err, "directory write left stale cache entries",
			"entity", ref.Kind.String(),
			"town", ref.TownSlug,
			"person", ref.PersonSlug,
		)
		return err
	}
	return nil
}
