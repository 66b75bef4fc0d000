package domain

import (
	"context"
	"errors"
)

// ErrTxContention is returned by Store.RunInTransaction once the bounded
// conflict-retry budget is exhausted. The coordinator surfaces it to callers
// as a retryable fault; it is never swallowed.
var ErrTxContention = errors.New("transaction retries exhausted")

// Tx exposes the records reachable inside one store transaction. Loads return
// nil when the record is absent. All writes commit atomically or not at all.
type Tx interface {
	Activity(ctx context.Context, key ActivityKey) (*Activity, error)
	Profile(ctx context.Context, userID string) (*Profile, error)
	SaveActivity(ctx context.Context, activity *Activity) error
	SaveProfile(ctx context.Context, profile *Profile) error
	// EnqueueConfirmationEmail records a mail job that is delivered after the
	// transaction commits. Enqueue failures must not fail the business outcome;
	// the coordinator logs and drops them.
	EnqueueConfirmationEmail(ctx context.Context, job ConfirmationEmail) error
}

// Store is the entity store contract the coordinator runs against.
type Store interface {
	// AllocateActivityID hands out a fresh id in the owner's partition. It is
	// called before the transaction opens so that transaction retries reuse
	// the same id.
	AllocateActivityID(ctx context.Context, ownerID string) (int64, error)

	// RunInTransaction executes fn inside one transaction scoped to tenantID,
	// retrying on optimistic conflict. Any error returned by fn aborts the
	// transaction and is passed through unchanged; ErrTxContention is returned
	// after the retry budget runs out.
	RunInTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx Tx) error) error

	// Read-only queries. These bypass the aggregates on purpose; no invariant
	// logic applies to listings.
	ProfileByID(ctx context.Context, tenantID, userID string) (*Profile, error)
	ActivitiesCreatedBy(ctx context.Context, tenantID, userID string) ([]Activity, error)
	ActivitiesByKeys(ctx context.Context, tenantID string, keys []ActivityKey) ([]Activity, error)
}

// ConfirmationEmail describes one confirmation mail job handed to the
// notification pipeline.
type ConfirmationEmail struct {
	JobID        string
	TenantID     string
	Recipient    string
	ActivityName string
	ActivityInfo string
}
