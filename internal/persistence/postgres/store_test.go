package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/du6/yourlittleone/internal/domain"
)

func TestAttendanceEncoding(t *testing.T) {
	keys := []domain.ActivityKey{
		{OwnerID: "user-alice", LocalID: 1},
		{OwnerID: "user-bob", LocalID: 42},
		// Federated subjects carry the separator inside the owner id; the
		// numeric id keeps the last separator unambiguous.
		{OwnerID: "auth0|12345", LocalID: 7},
	}

	encoded := encodeAttendance(keys)
	require.Equal(t, []string{"user-alice|1", "user-bob|42", "auth0|12345|7"}, encoded)

	decoded, err := decodeAttendance(encoded)
	require.NoError(t, err)
	require.Equal(t, keys, decoded)
}

func TestDecodeAttendanceRejectsMalformedEntries(t *testing.T) {
	_, err := decodeAttendance([]string{"no-separator"})
	require.Error(t, err)

	_, err = decodeAttendance([]string{"user-alice|not-a-number"})
	require.Error(t, err)
}

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, isSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.True(t, isSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	require.False(t, isSerializationFailure(&pgconn.PgError{Code: "23505"}))
	require.False(t, isSerializationFailure(nil))
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := 10 * time.Millisecond
	require.Equal(t, 10*time.Millisecond, backoffDelay(1, base))
	require.Equal(t, 20*time.Millisecond, backoffDelay(2, base))
	require.Equal(t, 40*time.Millisecond, backoffDelay(3, base))
	require.Equal(t, time.Second, backoffDelay(20, base))
}
