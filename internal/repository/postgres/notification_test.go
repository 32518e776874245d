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

func newNotificationRepo(t *testing.T) repository.NotificationRepository {
	t.Helper()
	return postgres.NewNotificationRepository(postgres.NewBaseRepository(sqltest.New(t)))
}

func queued(userID uuid.UUID, scheduled time.Time) *model.EmailNotification {
	return &model.EmailNotification{
		UserID:       userID,
		ToEmail:      "reader@example.com",
		Subject:      "Homer was updated",
		HTMLContent:  "<p>news</p>",
		Status:       model.EmailStatusQueued,
		ScheduledFor: scheduled,
	}
}

func TestNotificationRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)

	personID := uuid.New()
	text := "news"
	n := queued(uuid.New(), time.Now())
	n.PersonID = &personID
	n.TextContent = &text
	n.TrackingEnabled = true
	require.NoError(t, repo.Create(ctx, n))
	require.NotEqual(t, uuid.Nil, n.ID)

	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.UserID, got.UserID)
	assert.Equal(t, model.EmailStatusQueued, got.Status)
	require.NotNil(t, got.PersonID)
	assert.Equal(t, personID, *got.PersonID)
	assert.Nil(t, got.PersonHistoryID)
	assert.Equal(t, "news", *got.TextContent)
	assert.True(t, got.TrackingEnabled)
	assert.True(t, n.ScheduledFor.Equal(got.ScheduledFor))
	assert.Nil(t, got.SentAt)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNotificationRepository_ListDueAndClaim(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	now := time.Now().UTC()

	due := queued(uuid.New(), now.Add(-time.Minute))
	later := queued(uuid.New(), now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, due))
	require.NoError(t, repo.Create(ctx, later))

	rows, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)

	claim := *rows[0]
	claim.Status = model.EmailStatusSending
	ok, err := repo.UpdateIfStatus(ctx, &claim, model.EmailStatusQueued)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second worker loses the race.
	ok, err = repo.UpdateIfStatus(ctx, &claim, model.EmailStatusQueued)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err = repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNotificationRepository_RequeueFailedRespectsCeiling(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	msg := "smtp 451"

	var ids []uuid.UUID
	for _, retries := range []int{0, 2, 3} {
		n := queued(uuid.New(), time.Now())
		n.Status = model.EmailStatusFailed
		n.RetryCount = retries
		n.ErrorMessage = &msg
		require.NoError(t, repo.Create(ctx, n))
		ids = append(ids, n.ID)
	}

	n, err := repo.RequeueFailed(ctx, nil, 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	atCeiling, err := repo.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.EmailStatusFailed, atCeiling.Status)
	assert.Equal(t, 3, atCeiling.RetryCount)
	assert.Equal(t, msg, *atCeiling.ErrorMessage)

	requeued, err := repo.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, model.EmailStatusQueued, requeued.Status)
	assert.Equal(t, 2, requeued.RetryCount)
	assert.Nil(t, requeued.ErrorMessage)

	n, err = repo.ForceRequeue(ctx, []uuid.UUID{ids[2]}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	forced, err := repo.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.EmailStatusQueued, forced.Status)
	assert.Equal(t, 0, forced.RetryCount)
}

func TestNotificationRepository_RequeueFailedWithIDs(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n := queued(uuid.New(), time.Now())
		n.Status = model.EmailStatusFailed
		n.RetryCount = 1
		require.NoError(t, repo.Create(ctx, n))
		ids = append(ids, n.ID)
	}

	n, err := repo.RequeueFailed(ctx, ids[:1], 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.RequeueFailed(ctx, []uuid.UUID{}, 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNotificationRepository_FailStuck(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)

	n := queued(uuid.New(), time.Now())
	n.Status = model.EmailStatusSending
	n.RetryCount = 3
	require.NoError(t, repo.Create(ctx, n))

	count, err := repo.FailStuck(ctx, time.Now().Add(time.Minute), "dispatch interrupted", 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount, "retry count is capped")
	assert.Equal(t, "dispatch interrupted", *got.ErrorMessage)
}

func TestNotificationRepository_ListCountDelete(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	user := uuid.New()
	person := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		n := queued(user, time.Now())
		if i%2 == 0 {
			n.Status = model.EmailStatusFailed
			n.PersonID = &person
		}
		require.NoError(t, repo.Create(ctx, n))
		ids = append(ids, n.ID)
	}
	require.NoError(t, repo.Create(ctx, queued(uuid.New(), time.Now())))

	rows, total, err := repo.List(ctx, model.EmailFilter{UserID: &user})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rows, 5)

	rows, total, err = repo.List(ctx, model.EmailFilter{
		Status:     model.EmailStatusFailed,
		PersonID:   &person,
		Pagination: model.Pagination{Page: 2, PageSize: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, rows, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.EmailStatusQueued])
	assert.Equal(t, int64(3), counts[model.EmailStatusFailed])

	many, err := repo.GetMany(ctx, ids[:2])
	require.NoError(t, err)
	assert.Len(t, many, 2)

	deleted, err := repo.Delete(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
}
