package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/repository/postgres"
	"github.com/jwalitptl/towndir/internal/repository/sqltest"
)

func setup(t *testing.T) (*Service, repository.DirectoryRepository, *cache.Manager) {
	t.Helper()
	repo := postgres.NewDirectoryRepository(postgres.NewBaseRepository(sqltest.New(t)))

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	mgr, err := cache.NewManager(cache.Config{
		KeyPrefix:     "test:",
		MemoryTTL:     time.Minute,
		RedisTTL:      time.Hour,
		RemoteTimeout: time.Second,
	}, NewLoader(repo), cache.WithRedis(client))
	require.NoError(t, err)

	return NewService(repo, mgr, nil), repo, mgr
}

func TestReadThroughTiers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	require.NoError(t, svc.SaveTown(ctx, &model.Town{Slug: "springfield", Name: "Springfield"}))
	require.NoError(t, svc.SavePerson(ctx, &model.Person{TownSlug: "springfield", Slug: "homer", Name: "Homer"}))

	p, tier, err := svc.GetPerson(ctx, "springfield", "homer")
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	assert.Equal(t, "Homer", p.Name)

	_, tier, err = svc.GetPerson(ctx, "springfield", "homer")
	require.NoError(t, err)
	assert.Equal(t, model.TierMemory, tier)

	page, _, err := svc.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Town.PersonCount)
	require.Len(t, page.Persons, 1)

	home, _, err := svc.GetHomepage(ctx)
	require.NoError(t, err)
	assert.Len(t, home.RecentPersons, 1)
	assert.Len(t, home.Towns, 1)

	_, _, err = svc.GetPerson(ctx, "springfield", "flanders")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	_, _, err = svc.GetTown(ctx, "spring:field")
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestSavePerson_CascadesToAggregates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	require.NoError(t, svc.SaveTown(ctx, &model.Town{Slug: "springfield", Name: "Springfield"}))
	require.NoError(t, svc.SaveTown(ctx, &model.Town{Slug: "shelbyville", Name: "Shelbyville"}))
	homer := &model.Person{TownSlug: "springfield", Slug: "homer", Name: "Homer"}
	require.NoError(t, svc.SavePerson(ctx, homer))

	// Warm every aggregate.
	_, _, err := svc.GetHomepage(ctx)
	require.NoError(t, err)
	_, _, err = svc.GetTown(ctx, "springfield")
	require.NoError(t, err)
	_, _, err = svc.GetTown(ctx, "shelbyville")
	require.NoError(t, err)
	towns, _, err := svc.ListTowns(ctx)
	require.NoError(t, err)
	require.Len(t, towns, 2)
	_, _, err = svc.GetPerson(ctx, "springfield", "homer")
	require.NoError(t, err)

	moved := &model.Person{ID: homer.ID, TownSlug: "shelbyville", Slug: "homer", Name: "Homer"}
	require.NoError(t, svc.SavePerson(ctx, moved))

	old, tier, err := svc.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	assert.Empty(t, old.Persons, "the previous town no longer lists the person")

	fresh, tier, err := svc.GetTown(ctx, "shelbyville")
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	require.Len(t, fresh.Persons, 1)

	home, tier, err := svc.GetHomepage(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	assert.Equal(t, "shelbyville", home.RecentPersons[0].TownSlug)

	towns, tier, err = svc.ListTowns(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	for _, town := range towns {
		want := 0
		if town.Slug == "shelbyville" {
			want = 1
		}
		assert.Equal(t, want, town.PersonCount, town.Slug)
	}

	_, _, err = svc.GetPerson(ctx, "springfield", "homer")
	assert.ErrorIs(t, err, cache.ErrNotFound, "the old person key is not served stale")
}

func TestSaveTown_RenameIsVisible(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	require.NoError(t, svc.SaveTown(ctx, &model.Town{Slug: "springfield", Name: "Springfield"}))
	page, _, err := svc.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, "Springfield", page.Town.Name)

	require.NoError(t, svc.SaveTown(ctx, &model.Town{Slug: "springfield", Name: "Springfield USA"}))
	page, tier, err := svc.GetTown(ctx, "springfield")
	require.NoError(t, err)
	assert.Equal(t, model.TierDatabase, tier)
	assert.Equal(t, "Springfield USA", page.Town.Name)
}

func TestSavePerson_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	err := svc.SavePerson(ctx, &model.Person{TownSlug: "nowhere", Slug: "homer"})
	assert.ErrorIs(t, err, ErrUnknownTown)

	err = svc.SavePerson(ctx, &model.Person{TownSlug: "springfield", Slug: "bad slug"})
	assert.ErrorIs(t, err, ErrInvalidSlug)

	err = svc.SaveTown(ctx, &model.Town{Slug: ""})
	assert.ErrorIs(t, err, ErrInvalidSlug)
}
