package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/repository/postgres"
	"github.com/jwalitptl/towndir/internal/repository/sqltest"
)

func TestDirectoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewDirectoryRepository(postgres.NewBaseRepository(sqltest.New(t)))

	springfield := &model.Town{Slug: "springfield", Name: "Springfield"}
	require.NoError(t, repo.UpsertTown(ctx, springfield))
	require.NoError(t, repo.UpsertTown(ctx, &model.Town{Slug: "shelbyville", Name: "Shelbyville"}))

	homer := &model.Person{TownSlug: "springfield", Slug: "homer", Name: "Homer"}
	prev, err := repo.UpsertPerson(ctx, homer)
	require.NoError(t, err)
	assert.Empty(t, prev)

	_, err = repo.UpsertPerson(ctx, &model.Person{TownSlug: "springfield", Slug: "marge", Name: "Marge"})
	require.NoError(t, err)

	town, err := repo.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, 2, town.PersonCount)
	assert.Equal(t, springfield.ID, town.ID)

	// Renaming keeps the row id.
	require.NoError(t, repo.UpsertTown(ctx, &model.Town{Slug: "springfield", Name: "Springfield USA"}))
	town, err = repo.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, "Springfield USA", town.Name)
	assert.Equal(t, springfield.ID, town.ID)

	moved := &model.Person{ID: homer.ID, TownSlug: "shelbyville", Slug: "homer", Name: "Homer J."}
	prev, err = repo.UpsertPerson(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, "springfield", prev)

	_, err = repo.GetPerson(ctx, "springfield", "homer")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := repo.GetPersonByID(ctx, homer.ID)
	require.NoError(t, err)
	assert.Equal(t, "shelbyville", got.TownSlug)
	assert.Equal(t, "Homer J.", got.Name)

	persons, err := repo.ListPersonsByTown(ctx, "springfield")
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "marge", persons[0].Slug)

	towns, err := repo.ListTowns(ctx)
	require.NoError(t, err)
	require.Len(t, towns, 2)
	assert.Equal(t, "shelbyville", towns[0].Slug)
	assert.Equal(t, 1, towns[0].PersonCount)

	recent, err := repo.RecentPersons(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(postgres.NewBaseRepository(sqltest.New(t)))

	u := &model.User{Email: "Reader@Example.com", Name: "Reader"}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", got.Email)
}
