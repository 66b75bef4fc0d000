package domain_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/du6/yourlittleone/internal/domain"
	"github.com/du6/yourlittleone/internal/persistence/memory"
)

var (
	alice = domain.Identity{TenantID: "tenant-1", UserID: "user-alice", Email: "alice@example.com"}
	bob   = domain.Identity{TenantID: "tenant-1", UserID: "user-bob", Email: "bob@example.com"}
)

func newTestCoordinator(t *testing.T) (*domain.Coordinator, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	coordinator := domain.NewCoordinator(store,
		domain.WithLogger(log.New(io.Discard, "", 0)),
		domain.WithClock(func() time.Time {
			return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	return coordinator, store
}

func TestCreateActivityPersistsActivityAndProfile(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{
		Name:     "Toddler swim class",
		MaxSeats: 8,
	})
	require.NoError(t, err)
	require.Equal(t, alice.UserID, activity.OwnerID)
	require.NotZero(t, activity.ID)

	created, err := coordinator.ActivitiesCreated(ctx, alice)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "Toddler swim class", created[0].Name)

	// The owner's profile was created lazily in the same transaction.
	profile, err := store.ProfileByID(ctx, alice.TenantID, alice.UserID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, "alice", profile.DisplayName)
}

func TestCreateActivityEnqueuesConfirmationMail(t *testing.T) {
	coordinator, store := newTestCoordinator(t)

	_, err := coordinator.CreateActivity(context.Background(), alice, domain.ActivityForm{
		Name:     "Zoo visit",
		MaxSeats: 5,
	})
	require.NoError(t, err)

	mail := store.SentMail()
	require.Len(t, mail, 1)
	require.Equal(t, "alice@example.com", mail[0].Recipient)
	require.Equal(t, "Zoo visit", mail[0].ActivityName)
	require.Contains(t, mail[0].ActivityInfo, "Name: Zoo visit")
	require.NotEmpty(t, mail[0].JobID)
}

func TestCreateActivityRejectsEmptyName(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.CreateActivity(context.Background(), alice, domain.ActivityForm{MaxSeats: 5})
	require.Error(t, err)
	require.Equal(t, domain.FaultInvalid, domain.CodeOf(err))

	created, err := coordinator.ActivitiesCreated(context.Background(), alice)
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestUpdateActivityOwnerOnly(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 10})
	require.NoError(t, err)

	_, err = coordinator.UpdateActivity(ctx, bob, activity.Key(), domain.ActivityForm{Name: "Hijacked", MaxSeats: 10})
	require.Error(t, err)
	require.Equal(t, domain.FaultForbidden, domain.CodeOf(err))

	updated, err := coordinator.UpdateActivity(ctx, alice, activity.Key(), domain.ActivityForm{Name: "Renamed class", MaxSeats: 12})
	require.NoError(t, err)
	require.Equal(t, "Renamed class", updated.Name)
	require.Equal(t, 12, updated.AvailableSeats)
}

func TestUpdateActivityNotFound(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.UpdateActivity(context.Background(), alice,
		domain.ActivityKey{OwnerID: alice.UserID, LocalID: 404},
		domain.ActivityForm{Name: "Ghost", MaxSeats: 1})
	require.Error(t, err)
	require.Equal(t, domain.FaultNotFound, domain.CodeOf(err))
}

func TestUpdateActivityCannotShrinkBelowAllocation(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 3})
	require.NoError(t, err)

	registered, err := coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, registered)

	_, err = coordinator.UpdateActivity(ctx, alice, activity.Key(), domain.ActivityForm{Name: "Class", MaxSeats: 0})
	require.Error(t, err)
	require.Equal(t, domain.FaultConflict, domain.CodeOf(err))

	// Shrinking down to exactly the allocated count is allowed.
	updated, err := coordinator.UpdateActivity(ctx, alice, activity.Key(), domain.ActivityForm{Name: "Class", MaxSeats: 1})
	require.NoError(t, err)
	require.Equal(t, 0, updated.AvailableSeats)
}

func TestRegisterBooksSeatAndRecordsAttendance(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 2})
	require.NoError(t, err)

	registered, err := coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, registered)

	got, err := coordinator.GetActivity(ctx, bob.TenantID, activity.Key())
	require.NoError(t, err)
	require.Equal(t, 1, got.AvailableSeats)

	attending, err := coordinator.ActivitiesToAttend(ctx, bob)
	require.NoError(t, err)
	require.Len(t, attending, 1)
	require.Equal(t, activity.ID, attending[0].ID)
}

func TestRegisterTwiceIsConflict(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 5})
	require.NoError(t, err)

	_, err = coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)

	_, err = coordinator.Register(ctx, bob, activity.Key())
	require.Error(t, err)
	require.Equal(t, domain.FaultConflict, domain.CodeOf(err))

	// The failed attempt must not consume a seat.
	got, err := coordinator.GetActivity(ctx, bob.TenantID, activity.Key())
	require.NoError(t, err)
	require.Equal(t, 4, got.AvailableSeats)
}

func TestRegisterUnknownActivity(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.Register(context.Background(), bob,
		domain.ActivityKey{OwnerID: alice.UserID, LocalID: 404})
	require.Error(t, err)
	require.Equal(t, domain.FaultNotFound, domain.CodeOf(err))
}

func TestRegisterSoldOut(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 1})
	require.NoError(t, err)

	_, err = coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)

	carol := domain.Identity{TenantID: "tenant-1", UserID: "user-carol", Email: "carol@example.com"}
	_, err = coordinator.Register(ctx, carol, activity.Key())
	require.Error(t, err)
	require.Equal(t, domain.FaultConflict, domain.CodeOf(err))
}

func TestUnregisterWithoutRegistrationReportsFalse(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 2})
	require.NoError(t, err)

	removed, err := coordinator.Unregister(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.False(t, removed)

	// The no-op must not touch the seat pool.
	got, err := coordinator.GetActivity(ctx, bob.TenantID, activity.Key())
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableSeats)
}

func TestRegisterUnregisterRegisterCycle(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 1})
	require.NoError(t, err)

	registered, err := coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, registered)

	removed, err := coordinator.Unregister(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, removed)

	// The released seat is immediately reusable, even by the same caller.
	registered, err = coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, registered)

	got, err := coordinator.GetActivity(ctx, bob.TenantID, activity.Key())
	require.NoError(t, err)
	require.Equal(t, 0, got.AvailableSeats)
}

func TestConcurrentRegistrationsSingleSeat(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Final seat", MaxSeats: 1})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := domain.Identity{
				TenantID: "tenant-1",
				UserID:   "user-" + string(rune('a'+i)),
				Email:    "user@example.com",
			}
			_, results[i] = coordinator.Register(ctx, caller, activity.Key())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		require.Equal(t, domain.FaultConflict, domain.CodeOf(err))
	}
	require.Equal(t, 1, winners)

	got, err := coordinator.GetActivity(ctx, "tenant-1", activity.Key())
	require.NoError(t, err)
	require.Equal(t, 0, got.AvailableSeats)
}

func TestContentionRetriesThenSucceeds(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 2})
	require.NoError(t, err)

	store.FailNextCommits(2)
	registered, err := coordinator.Register(ctx, bob, activity.Key())
	require.NoError(t, err)
	require.True(t, registered)
}

func TestContentionExhaustionIsRetryable(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 2})
	require.NoError(t, err)

	store.FailNextCommits(10)
	_, err = coordinator.Register(ctx, bob, activity.Key())
	require.Error(t, err)
	require.Equal(t, domain.FaultUnavailable, domain.CodeOf(err))

	// No partial effects may survive the exhausted retries.
	store.FailNextCommits(0)
	got, err := coordinator.GetActivity(ctx, bob.TenantID, activity.Key())
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableSeats)
}

func TestGetProfileCreatesLazily(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	profile, err := coordinator.GetProfile(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "alice", profile.DisplayName)
	require.Equal(t, domain.GenderUnspecified, profile.Gender)

	// The lazily created profile is persisted, not just returned.
	name := "Alice A."
	gender := domain.GenderFemale
	saved, err := coordinator.SaveProfile(ctx, alice, &name, &gender)
	require.NoError(t, err)
	require.Equal(t, "Alice A.", saved.DisplayName)

	profile, err = coordinator.GetProfile(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "Alice A.", profile.DisplayName)
	require.Equal(t, domain.GenderFemale, profile.Gender)
}

func TestActivitiesToAttendWithoutProfile(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.ActivitiesToAttend(context.Background(), bob)
	require.Error(t, err)
	require.Equal(t, domain.FaultNotFound, domain.CodeOf(err))
}

func TestTenantsDoNotSeeEachOther(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	activity, err := coordinator.CreateActivity(ctx, alice, domain.ActivityForm{Name: "Class", MaxSeats: 2})
	require.NoError(t, err)

	other := domain.Identity{TenantID: "tenant-2", UserID: "user-eve", Email: "eve@example.com"}
	_, err = coordinator.Register(ctx, other, activity.Key())
	require.Error(t, err)
	require.Equal(t, domain.FaultNotFound, domain.CodeOf(err))
}
