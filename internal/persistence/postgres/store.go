// Package postgres implements the entity store on top of PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/du6/yourlittleone/internal/domain"
	"github.com/du6/yourlittleone/internal/events"
	"github.com/du6/yourlittleone/internal/observability"
)

const activityColumns = `owner_id, activity_id, tenant_id, name, description, topics, location,
        start_at, end_at, start_month, max_seats, available_seats, created_at, updated_at`

// Store provides Postgres-backed persistence for activities and profiles.
// Mutations run under SERIALIZABLE isolation; serialization failures are
// retried with exponential backoff up to maxRetries before the operation is
// reported as contended.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewStore constructs a Store with the given retry budget.
func NewStore(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *Store {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 10 * time.Millisecond
	}
	return &Store{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// AllocateActivityID reserves a fresh activity id. Ids are unique across all
// partitions, which trivially keeps them unique within the owner's partition.
func (s *Store) AllocateActivityID(ctx context.Context, ownerID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('activity_ids')`).Scan(&id)
	return id, err
}

// RunInTransaction implements domain.Store.
func (s *Store) RunInTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordTxRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt, s.baseDelay)):
			}
		}

		lastErr = s.runOnce(ctx, tenantID, fn)
		if lastErr == nil {
			return nil
		}
		if !isSerializationFailure(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTxContention, lastErr)
}

func (s *Store) runOnce(ctx context.Context, tenantID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}

	if err := fn(ctx, &storeTx{tx: tx, tenantID: tenantID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ProfileByID returns the profile or nil when absent.
func (s *Store) ProfileByID(ctx context.Context, tenantID, userID string) (*domain.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, tenant_id, display_name, email, gender, attending, created_at, updated_at
           FROM profiles WHERE tenant_id=$1 AND user_id=$2`, tenantID, userID)
	return scanProfile(row)
}

// ActivitiesCreatedBy lists an owner's partition ordered by name.
func (s *Store) ActivitiesCreatedBy(ctx context.Context, tenantID, userID string) ([]domain.Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities
          WHERE tenant_id=$1 AND owner_id=$2 ORDER BY name`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}

// ActivitiesByKeys batch-loads activities, preserving the order of keys.
// Missing keys are silently skipped.
func (s *Store) ActivitiesByKeys(ctx context.Context, tenantID string, keys []domain.ActivityKey) ([]domain.Activity, error) {
	if len(keys) == 0 {
		return []domain.Activity{}, nil
	}
	owners := make([]string, len(keys))
	ids := make([]int64, len(keys))
	for i, key := range keys {
		owners[i] = key.OwnerID
		ids[i] = key.LocalID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities a
          JOIN unnest($2::text[], $3::bigint[]) AS k(owner_id, activity_id)
            ON a.owner_id = k.owner_id AND a.activity_id = k.activity_id
         WHERE a.tenant_id = $1`, tenantID, owners, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fetched, err := collectActivities(rows)
	if err != nil {
		return nil, err
	}

	byKey := make(map[domain.ActivityKey]domain.Activity, len(fetched))
	for _, activity := range fetched {
		byKey[activity.Key()] = activity
	}
	ordered := make([]domain.Activity, 0, len(fetched))
	for _, key := range keys {
		if activity, ok := byKey[key]; ok {
			ordered = append(ordered, activity)
		}
	}
	return ordered, nil
}

// storeTx adapts one open pgx transaction to the domain.Tx contract.
type storeTx struct {
	tx       pgx.Tx
	tenantID string
}

func (t *storeTx) Activity(ctx context.Context, key domain.ActivityKey) (*domain.Activity, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities
          WHERE tenant_id=$1 AND owner_id=$2 AND activity_id=$3`,
		t.tenantID, key.OwnerID, key.LocalID)
	activity, err := scanActivity(row)
	if err != nil {
		return nil, err
	}
	return activity, nil
}

func (t *storeTx) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT user_id, tenant_id, display_name, email, gender, attending, created_at, updated_at
           FROM profiles WHERE tenant_id=$1 AND user_id=$2`, t.tenantID, userID)
	return scanProfile(row)
}

func (t *storeTx) SaveActivity(ctx context.Context, activity *domain.Activity) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO activities (owner_id, activity_id, tenant_id, name, description, topics, location,
                start_at, end_at, start_month, max_seats, available_seats, created_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
         ON CONFLICT (tenant_id, owner_id, activity_id) DO UPDATE SET
                name=EXCLUDED.name, description=EXCLUDED.description, topics=EXCLUDED.topics,
                location=EXCLUDED.location, start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at,
                start_month=EXCLUDED.start_month, max_seats=EXCLUDED.max_seats,
                available_seats=EXCLUDED.available_seats, updated_at=EXCLUDED.updated_at`,
		activity.OwnerID, activity.ID, activity.TenantID, activity.Name, activity.Description,
		activity.Topics, activity.Location, activity.Start, activity.End, activity.StartMonth,
		activity.MaxSeats, activity.AvailableSeats, activity.CreatedAt, activity.UpdatedAt)
	return err
}

func (t *storeTx) SaveProfile(ctx context.Context, profile *domain.Profile) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO profiles (user_id, tenant_id, display_name, email, gender, attending, created_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         ON CONFLICT (tenant_id, user_id) DO UPDATE SET
                display_name=EXCLUDED.display_name, email=EXCLUDED.email, gender=EXCLUDED.gender,
                attending=EXCLUDED.attending, updated_at=EXCLUDED.updated_at`,
		profile.UserID, profile.TenantID, profile.DisplayName, profile.Email,
		string(profile.Gender), encodeAttendance(profile.Attending),
		profile.CreatedAt, profile.UpdatedAt)
	return err
}

func (t *storeTx) EnqueueConfirmationEmail(ctx context.Context, job domain.ConfirmationEmail) error {
	payload, err := json.Marshal(events.ConfirmationEmailJob{
		JobID:        job.JobID,
		TenantID:     job.TenantID,
		Recipient:    job.Recipient,
		ActivityName: job.ActivityName,
		ActivityInfo: job.ActivityInfo,
		RequestedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		job.TenantID, "notification", job.JobID, events.EventTypeConfirmationEmail,
		events.TopicNotificationJobs, events.TopicNotificationJobs+"-value",
		job.Recipient, payload, job.JobID)
	return err
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var activity domain.Activity
	err := row.Scan(&activity.OwnerID, &activity.ID, &activity.TenantID, &activity.Name,
		&activity.Description, &activity.Topics, &activity.Location, &activity.Start,
		&activity.End, &activity.StartMonth, &activity.MaxSeats, &activity.AvailableSeats,
		&activity.CreatedAt, &activity.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var profile domain.Profile
	var gender string
	var attending []string
	err := row.Scan(&profile.UserID, &profile.TenantID, &profile.DisplayName, &profile.Email,
		&gender, &attending, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile.Gender = domain.Gender(gender)
	profile.Attending, err = decodeAttendance(attending)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func collectActivities(rows pgx.Rows) ([]domain.Activity, error) {
	activities := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activities, nil
}

// Attendance is stored as a text array of "owner|id" entries so that the
// registration order survives round trips.
func encodeAttendance(keys []domain.ActivityKey) []string {
	encoded := make([]string, len(keys))
	for i, key := range keys {
		encoded[i] = fmt.Sprintf("%s|%d", key.OwnerID, key.LocalID)
	}
	return encoded
}

func decodeAttendance(entries []string) ([]domain.ActivityKey, error) {
	keys := make([]domain.ActivityKey, 0, len(entries))
	for _, entry := range entries {
		// Split on the last separator: the id is numeric, the owner id may
		// itself contain "|" (federated subjects like "auth0|12345").
		sep := strings.LastIndex(entry, "|")
		if sep <= 0 {
			return nil, fmt.Errorf("malformed attendance entry: %q", entry)
		}
		id, err := strconv.ParseInt(entry[sep+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed attendance entry: %q", entry)
		}
		keys = append(keys, domain.ActivityKey{OwnerID: entry[:sep], LocalID: id})
	}
	return keys, nil
}

// isSerializationFailure matches serialization_failure and deadlock_detected,
// the two SQLSTATEs a SERIALIZABLE transaction can fail with under contention.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// backoffDelay doubles the delay per attempt, capped at one second.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Second {
		delay = time.Second
	}
	return delay
}
