// Package domain holds the activity and profile aggregates and the
// registration coordinator that mutates them transactionally.
package domain

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// Identity describes the authenticated caller as resolved by the transport
// layer. UserID is the stable profile key; Email seeds profile defaults.
type Identity struct {
	TenantID string
	UserID   string
	Email    string
}

// Coordinator orchestrates the activity and profile aggregates inside single
// store transactions. It holds no cross-call state: every operation re-loads
// its records at transaction start.
type Coordinator struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// CoordinatorOption configures optional coordinator behaviour.
type CoordinatorOption func(*Coordinator)

// WithLogger overrides the logger used for non-fatal conditions.
func WithLogger(logger *log.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator constructs a Coordinator backed by the given store.
func NewCoordinator(store Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:  store,
		logger: log.New(log.Writer(), "[coordinator] ", log.LstdFlags),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateActivity allocates a fresh activity in the caller's partition and
// persists it together with the caller's (possibly new) profile. A
// confirmation mail job is enqueued in the same transaction, best effort.
func (c *Coordinator) CreateActivity(ctx context.Context, caller Identity, form ActivityForm) (*Activity, error) {
	// Allocate the id before the transaction so a retried transaction reuses it.
	id, err := c.store.AllocateActivityID(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	var created *Activity
	err = c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		now := c.now()
		profile, err := c.getOrCreateProfile(ctx, tx, caller, now)
		if err != nil {
			return err
		}
		activity, err := NewActivity(id, caller.TenantID, caller.UserID, form, now)
		if err != nil {
			return err
		}
		// Profile first: the activity row references its owner's profile.
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return err
		}
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		job := ConfirmationEmail{
			JobID:        uuid.NewString(),
			TenantID:     caller.TenantID,
			Recipient:    profile.Email,
			ActivityName: activity.Name,
			ActivityInfo: activity.Summary(),
		}
		if err := tx.EnqueueConfirmationEmail(ctx, job); err != nil {
			// Mail is best effort and must not fail the creation.
			c.logger.Printf("enqueue confirmation email failed (activity=%d): %v", activity.ID, err)
		}
		created = activity
		return nil
	})
	if err != nil {
		return nil, c.mapStoreErr(err)
	}
	return created, nil
}

// UpdateActivity applies the form to an existing activity owned by the caller.
func (c *Coordinator) UpdateActivity(ctx context.Context, caller Identity, key ActivityKey, form ActivityForm) (*Activity, error) {
	var updated *Activity
	err := c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		activity, err := tx.Activity(ctx, key)
		if err != nil {
			return err
		}
		if activity == nil {
			return Faultf(FaultNotFound, "no activity found with key %s/%d", key.OwnerID, key.LocalID)
		}
		if activity.OwnerID != caller.UserID {
			return Faultf(FaultForbidden, "only the owner can update the activity")
		}
		if err := activity.ApplyForm(form, c.now()); err != nil {
			return err
		}
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		updated = activity
		return nil
	})
	if err != nil {
		return nil, c.mapStoreErr(err)
	}
	return updated, nil
}

// Register books one seat and records the attendance on the caller's profile,
// atomically. The seat counter and the attendance list move together so the
// two can never diverge when registrations race for the last seat.
func (c *Coordinator) Register(ctx context.Context, caller Identity, key ActivityKey) (bool, error) {
	err := c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		activity, err := tx.Activity(ctx, key)
		if err != nil {
			return err
		}
		if activity == nil {
			return Faultf(FaultNotFound, "no activity found with key %s/%d", key.OwnerID, key.LocalID)
		}
		now := c.now()
		profile, err := c.getOrCreateProfile(ctx, tx, caller, now)
		if err != nil {
			return err
		}
		if profile.IsAttending(key) {
			return Faultf(FaultConflict, "you have already registered for this activity")
		}
		if activity.AvailableSeats <= 0 {
			return Faultf(FaultConflict, "there are no seats available")
		}
		if err := activity.BookSeats(1); err != nil {
			return err
		}
		profile.AddAttendance(key, now)
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return err
		}
		return tx.SaveActivity(ctx, activity)
	})
	if err != nil {
		return false, c.mapStoreErr(err)
	}
	return true, nil
}

// Unregister releases the caller's seat. Unregistering without a registration
// is a no-op reported as success-false, asymmetric with Register on purpose:
// the behaviour is kept exactly as the existing clients expect it.
func (c *Coordinator) Unregister(ctx context.Context, caller Identity, key ActivityKey) (bool, error) {
	removed := false
	err := c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		removed = false
		activity, err := tx.Activity(ctx, key)
		if err != nil {
			return err
		}
		if activity == nil {
			return Faultf(FaultNotFound, "no activity found with key %s/%d", key.OwnerID, key.LocalID)
		}
		now := c.now()
		profile, err := c.getOrCreateProfile(ctx, tx, caller, now)
		if err != nil {
			return err
		}
		if !profile.IsAttending(key) {
			return nil
		}
		if err := profile.RemoveAttendance(key, now); err != nil {
			return err
		}
		if err := activity.ReleaseSeats(1); err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return err
		}
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, c.mapStoreErr(err)
	}
	return removed, nil
}

// GetProfile returns the caller's profile, creating it on first touch.
func (c *Coordinator) GetProfile(ctx context.Context, caller Identity) (*Profile, error) {
	var profile *Profile
	err := c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		p, err := c.getOrCreateProfile(ctx, tx, caller, c.now())
		if err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, c.mapStoreErr(err)
	}
	return profile, nil
}

// SaveProfile creates or updates the caller's profile. Nil fields are left
// untouched.
func (c *Coordinator) SaveProfile(ctx context.Context, caller Identity, displayName *string, gender *Gender) (*Profile, error) {
	var profile *Profile
	err := c.store.RunInTransaction(ctx, caller.TenantID, func(ctx context.Context, tx Tx) error {
		now := c.now()
		p, err := c.getOrCreateProfile(ctx, tx, caller, now)
		if err != nil {
			return err
		}
		p.Update(displayName, gender, now)
		if err := tx.SaveProfile(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, c.mapStoreErr(err)
	}
	return profile, nil
}

// GetActivity fetches one activity without mutating anything.
func (c *Coordinator) GetActivity(ctx context.Context, tenantID string, key ActivityKey) (*Activity, error) {
	activities, err := c.store.ActivitiesByKeys(ctx, tenantID, []ActivityKey{key})
	if err != nil {
		return nil, err
	}
	if len(activities) == 0 {
		return nil, Faultf(FaultNotFound, "no activity found with key %s/%d", key.OwnerID, key.LocalID)
	}
	return &activities[0], nil
}

// ActivitiesCreated lists the activities the caller created, ordered by name.
func (c *Coordinator) ActivitiesCreated(ctx context.Context, caller Identity) ([]Activity, error) {
	return c.store.ActivitiesCreatedBy(ctx, caller.TenantID, caller.UserID)
}

// ActivitiesToAttend resolves the caller's attendance list to activities.
func (c *Coordinator) ActivitiesToAttend(ctx context.Context, caller Identity) ([]Activity, error) {
	profile, err := c.store.ProfileByID(ctx, caller.TenantID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, Faultf(FaultNotFound, "profile doesn't exist")
	}
	if len(profile.Attending) == 0 {
		return []Activity{}, nil
	}
	return c.store.ActivitiesByKeys(ctx, caller.TenantID, profile.Attending)
}

// getOrCreateProfile is the single lazy-creation path for profiles. Every
// operation that touches a profile goes through it.
func (c *Coordinator) getOrCreateProfile(ctx context.Context, tx Tx, caller Identity, now time.Time) (*Profile, error) {
	profile, err := tx.Profile(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = NewProfile(caller.TenantID, caller.UserID, caller.Email, now)
	}
	return profile, nil
}

func (c *Coordinator) mapStoreErr(err error) error {
	if errors.Is(err, ErrTxContention) {
		return Faultf(FaultUnavailable, "the operation could not complete due to contention, please retry")
	}
	return err
}
