package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/du6/yourlittleone/internal/domain"
)

func TestRunInTransactionStagesWritesUntilCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, "tenant-1", func(ctx context.Context, tx domain.Tx) error {
		profile := domain.NewProfile("tenant-1", "user-alice", "alice@example.com", time.Now())
		require.NoError(t, tx.SaveProfile(ctx, profile))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The failed transaction must not publish its writes.
	profile, err := store.ProfileByID(ctx, "tenant-1", "user-alice")
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestRunInTransactionRetriesInjectedConflicts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.FailNextCommits(2)
	attempts := 0
	err := store.RunInTransaction(ctx, "tenant-1", func(ctx context.Context, tx domain.Tx) error {
		attempts++
		return tx.SaveProfile(ctx, domain.NewProfile("tenant-1", "user-alice", "alice@example.com", time.Now()))
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	profile, err := store.ProfileByID(ctx, "tenant-1", "user-alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
}

func TestRunInTransactionReportsContentionAfterRetryBudget(t *testing.T) {
	store := NewStore()

	store.FailNextCommits(10)
	err := store.RunInTransaction(context.Background(), "tenant-1", func(ctx context.Context, tx domain.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, domain.ErrTxContention)
}

func TestReadsReturnCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	activity, err := domain.NewActivity(1, "tenant-1", "user-alice", domain.ActivityForm{
		Name: "Class", Topics: []string{"art"}, MaxSeats: 3,
	}, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.RunInTransaction(ctx, "tenant-1", func(ctx context.Context, tx domain.Tx) error {
		return tx.SaveActivity(ctx, activity)
	}))

	got, err := store.ActivitiesByKeys(ctx, "tenant-1", []domain.ActivityKey{activity.Key()})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Mutating the returned value must not leak back into the store.
	got[0].Topics[0] = "mutated"
	again, err := store.ActivitiesByKeys(ctx, "tenant-1", []domain.ActivityKey{activity.Key()})
	require.NoError(t, err)
	require.Equal(t, []string{"art"}, again[0].Topics)
}
