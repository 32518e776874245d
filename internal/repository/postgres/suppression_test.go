package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/repository/postgres"
	"github.com/jwalitptl/towndir/internal/repository/sqltest"
)

func TestSuppressionRepository_UpsertIsNormalizedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSuppressionRepository(postgres.NewBaseRepository(sqltest.New(t)))

	require.NoError(t, repo.Upsert(ctx, &model.EmailSuppression{
		Email:  " Bounce@Example.com ",
		Reason: model.ReasonManual,
		Source: model.SuppressionSourceAdmin,
	}))

	bounce := model.BounceTypePermanent
	require.NoError(t, repo.Upsert(ctx, &model.EmailSuppression{
		Email:      "bounce@example.com",
		Reason:     model.ReasonPermanentBounce,
		Source:     model.SuppressionSourceWebhook,
		BounceType: &bounce,
	}))

	ok, err := repo.Exists(ctx, "BOUNCE@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := repo.Get(ctx, "bounce@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonPermanentBounce, s.Reason)
	assert.Equal(t, model.BounceTypePermanent, *s.BounceType)

	_, total, err := repo.List(ctx, model.SuppressionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	removed, err := repo.Delete(ctx, "bounce@example.com")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Delete(ctx, "bounce@example.com")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.Get(ctx, "bounce@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSuppressionRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSuppressionRepository(postgres.NewBaseRepository(sqltest.New(t)))

	details := "Asked by phone"
	for _, s := range []model.EmailSuppression{
		{Email: "a@example.com", Reason: model.ReasonManual, Source: model.SuppressionSourceAdmin, ReasonDetails: &details},
		{Email: "b@example.com", Reason: model.ReasonSpamComplaint, Source: model.SuppressionSourceWebhook},
		{Email: "c@other.org", Reason: model.ReasonManual, Source: model.SuppressionSourceCLI},
	} {
		s := s
		require.NoError(t, repo.Upsert(ctx, &s))
	}

	rows, total, err := repo.List(ctx, model.SuppressionFilter{Search: "example"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)

	rows, total, err = repo.List(ctx, model.SuppressionFilter{Reason: model.ReasonManual})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)

	rows, _, err = repo.List(ctx, model.SuppressionFilter{Search: "PHONE"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@example.com", rows[0].Email)
}

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewTokenRepository(postgres.NewBaseRepository(sqltest.New(t)))
	now := time.Now().UTC()
	person := uuid.New()

	live := &model.Token{
		Hash:      "aa",
		Kind:      model.TokenKindOptOut,
		UserID:    uuid.New(),
		PersonID:  &person,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	expired := &model.Token{
		Hash:      "bb",
		Kind:      model.TokenKindMagicLink,
		UserID:    uuid.New(),
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now.Add(-2 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))

	got, err := repo.GetByHash(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, model.TokenKindOptOut, got.Kind)
	assert.Equal(t, person, *got.PersonID)
	assert.True(t, got.Usable(now))

	revoked, err := repo.Revoke(ctx, "aa", now)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = repo.Revoke(ctx, "aa", now)
	require.NoError(t, err)
	assert.False(t, revoked)

	got, err = repo.GetByHash(ctx, "aa")
	require.NoError(t, err)
	assert.False(t, got.Usable(now))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByHash(ctx, "bb")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOptOutRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewOptOutRepository(postgres.NewBaseRepository(sqltest.New(t)))
	user := uuid.New()
	person := uuid.New()
	other := uuid.New()

	require.NoError(t, repo.Add(ctx, &model.OptOut{UserID: user, PersonID: &person}))
	require.NoError(t, repo.Add(ctx, &model.OptOut{UserID: user, PersonID: &person}))

	ok, err := repo.IsOptedOut(ctx, user, &person)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsOptedOut(ctx, user, &other)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.IsOptedOut(ctx, user, nil)
	require.NoError(t, err)
	assert.False(t, ok, "a single-person opt-out does not cover general mail")

	require.NoError(t, repo.Add(ctx, &model.OptOut{UserID: user}))
	ok, err = repo.IsOptedOut(ctx, user, &other)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := repo.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
