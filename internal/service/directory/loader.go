package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

// HomepageRecent is how many recently added persons the homepage shows.
const HomepageRecent = 10

// Loader builds the cached aggregates from the directory tables. It is the
// database tier of the cache.
type Loader struct {
	repo repository.DirectoryRepository
	now  func() time.Time
}

func NewLoader(repo repository.DirectoryRepository) *Loader {
	return &Loader{repo: repo, now: time.Now}
}

func (l *Loader) Load(ctx context.Context, key string) ([]byte, error) {
	parsed, err := cache.ParseKey(key)
	if err != nil {
		return nil, err
	}

	var v interface{}
	switch parsed.Kind {
	case cache.KeyPerson:
		v, err = l.repo.GetPerson(ctx, parsed.TownSlug, parsed.PersonSlug)
	case cache.KeyTown:
		v, err = l.townPage(ctx, parsed.TownSlug)
	case cache.KeyTownList:
		v, err = l.repo.ListTowns(ctx)
	case cache.KeyHomepage:
		v, err = l.homepage(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", cache.ErrInvalidKey, key)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (l *Loader) townPage(ctx context.Context, slug string) (*model.TownPage, error) {
	town, err := l.repo.GetTown(ctx, slug)
	if err != nil {
		return nil, err
	}
	persons, err := l.repo.ListPersonsByTown(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &model.TownPage{Town: *town, Persons: persons}, nil
}

func (l *Loader) homepage(ctx context.Context) (*model.Homepage, error) {
	recent, err := l.repo.RecentPersons(ctx, HomepageRecent)
	if err != nil {
		return nil, err
	}
	towns, err := l.repo.ListTowns(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Homepage{RecentPersons: recent, Towns: towns, GeneratedAt: l.now().UTC()}, nil
}
