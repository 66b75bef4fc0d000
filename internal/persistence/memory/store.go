// Package memory implements the entity store in process memory for local
// development and unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/du6/yourlittleone/internal/domain"
)

type profileKey struct {
	tenantID string
	userID   string
}

type activityKey struct {
	tenantID string
	key      domain.ActivityKey
}

// Store keeps all records in maps and serializes transactions with a single
// lock, which gives the same one-winner guarantee per activity the Postgres
// store gets from SERIALIZABLE isolation.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	profiles   map[profileKey]domain.Profile
	activities map[activityKey]domain.Activity
	mail       []domain.ConfirmationEmail

	// conflicts, when positive, makes that many upcoming commits fail with a
	// synthetic optimistic conflict. Tests use it to exercise the retry path.
	conflicts  atomic.Int32
	maxRetries int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		profiles:   make(map[profileKey]domain.Profile),
		activities: make(map[activityKey]domain.Activity),
		maxRetries: 3,
	}
}

// FailNextCommits arms n synthetic commit conflicts.
func (s *Store) FailNextCommits(n int) {
	s.conflicts.Store(int32(n))
}

// SentMail returns the confirmation jobs enqueued so far.
func (s *Store) SentMail() []domain.ConfirmationEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConfirmationEmail(nil), s.mail...)
}

// AllocateActivityID implements domain.Store.
func (s *Store) AllocateActivityID(ctx context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// RunInTransaction implements domain.Store. The callback mutates a staged
// copy of the records; the copy is published only when the callback succeeds.
func (s *Store) RunInTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.runOnce(ctx, tenantID, fn)
		if lastErr == nil {
			return nil
		}
		if lastErr != errConflict {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTxContention, lastErr)
}

var errConflict = fmt.Errorf("optimistic conflict")

func (s *Store) runOnce(ctx context.Context, tenantID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, tenantID: tenantID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return errConflict
	}
	tx.commit()
	return nil
}

// ProfileByID implements domain.Store.
func (s *Store) ProfileByID(ctx context.Context, tenantID, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile, ok := s.profiles[profileKey{tenantID, userID}]; ok {
		return copyProfile(profile), nil
	}
	return nil, nil
}

// ActivitiesCreatedBy implements domain.Store.
func (s *Store) ActivitiesCreatedBy(ctx context.Context, tenantID, userID string) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activities := make([]domain.Activity, 0)
	for key, activity := range s.activities {
		if key.tenantID == tenantID && activity.OwnerID == userID {
			activities = append(activities, *copyActivity(activity))
		}
	}
	sort.Slice(activities, func(i, j int) bool { return activities[i].Name < activities[j].Name })
	return activities, nil
}

// ActivitiesByKeys implements domain.Store.
func (s *Store) ActivitiesByKeys(ctx context.Context, tenantID string, keys []domain.ActivityKey) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activities := make([]domain.Activity, 0, len(keys))
	for _, key := range keys {
		if activity, ok := s.activities[activityKey{tenantID, key}]; ok {
			activities = append(activities, *copyActivity(activity))
		}
	}
	return activities, nil
}

// memTx stages writes until commit.
type memTx struct {
	store    *Store
	tenantID string

	stagedProfiles   []domain.Profile
	stagedActivities []domain.Activity
	stagedMail       []domain.ConfirmationEmail
}

func (t *memTx) Activity(ctx context.Context, key domain.ActivityKey) (*domain.Activity, error) {
	if activity, ok := t.store.activities[activityKey{t.tenantID, key}]; ok {
		return copyActivity(activity), nil
	}
	return nil, nil
}

func (t *memTx) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	if profile, ok := t.store.profiles[profileKey{t.tenantID, userID}]; ok {
		return copyProfile(profile), nil
	}
	return nil, nil
}

func (t *memTx) SaveActivity(ctx context.Context, activity *domain.Activity) error {
	t.stagedActivities = append(t.stagedActivities, *copyActivity(*activity))
	return nil
}

func (t *memTx) SaveProfile(ctx context.Context, profile *domain.Profile) error {
	t.stagedProfiles = append(t.stagedProfiles, *copyProfile(*profile))
	return nil
}

func (t *memTx) EnqueueConfirmationEmail(ctx context.Context, job domain.ConfirmationEmail) error {
	t.stagedMail = append(t.stagedMail, job)
	return nil
}

func (t *memTx) commit() {
	for _, activity := range t.stagedActivities {
		t.store.activities[activityKey{t.tenantID, activity.Key()}] = activity
	}
	for _, profile := range t.stagedProfiles {
		t.store.profiles[profileKey{t.tenantID, profile.UserID}] = profile
	}
	t.store.mail = append(t.store.mail, t.stagedMail...)
}

func copyActivity(activity domain.Activity) *domain.Activity {
	c := activity
	c.Topics = append([]string(nil), activity.Topics...)
	if activity.Start != nil {
		start := *activity.Start
		c.Start = &start
	}
	if activity.End != nil {
		end := *activity.End
		c.End = &end
	}
	return &c
}

func copyProfile(profile domain.Profile) *domain.Profile {
	c := profile
	c.Attending = append([]domain.ActivityKey(nil), profile.Attending...)
	return &c
}
