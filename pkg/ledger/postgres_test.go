package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medhash-labs/medhash/pkg/commitment"
)

func TestPostgresSubmitUsesDollarPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, DialectPostgres, testLogger())
	c := commitment.Hasher{}.Commit("12345678", "a summary", testTS)

	mock.ExpectExec(`INSERT INTO proofs .+ VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT \(commitment\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows([]string{"commitment", "ts", "submission_ref", "created_at", "verifications", "last_verified"}).
		AddRow(c.String(), "2026-03-01T12:30:45Z", "ref-1", "2026-03-01T12:30:46Z", int64(0), nil)
	mock.ExpectQuery(`SELECT commitment, ts, submission_ref, created_at, verifications, last_verified\s+FROM proofs WHERE commitment = \$1`).
		WithArgs(c.String()).
		WillReturnRows(rows)

	rec, err := store.Submit(context.Background(), c, testTS)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", rec.SubmissionRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupBumpsCounter(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, DialectPostgres, testLogger())
	c := commitment.Hasher{}.Commit("12345678", "a summary", testTS)

	rows := sqlmock.NewRows([]string{"commitment", "ts", "submission_ref", "created_at", "verifications", "last_verified"}).
		AddRow(c.String(), "2026-03-01T12:30:45Z", "ref-1", "2026-03-01T12:30:46Z", int64(4), "2026-03-02T00:00:00Z")
	mock.ExpectQuery(`SELECT commitment, .+ FROM proofs WHERE commitment = \$1`).
		WithArgs(c.String()).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE proofs SET verifications = verifications \+ 1, last_verified = \$1 WHERE commitment = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, found, err := store.Lookup(context.Background(), c)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 5, rec.Verifications)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupCounterFailureIsBestEffort(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, DialectPostgres, testLogger())
	c := commitment.Hasher{}.Commit("12345678", "a summary", testTS)

	rows := sqlmock.NewRows([]string{"commitment", "ts", "submission_ref", "created_at", "verifications", "last_verified"}).
		AddRow(c.String(), "2026-03-01T12:30:45Z", "ref-1", "2026-03-01T12:30:46Z", int64(2), nil)
	mock.ExpectQuery(`SELECT commitment, .+ FROM proofs WHERE commitment = \$1`).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE proofs SET verifications`).
		WillReturnError(assert.AnError)

	rec, found, err := store.Lookup(context.Background(), c)
	require.NoError(t, err)
	require.True(t, found)
	// The counter keeps its stored value when the bump fails.
	assert.EqualValues(t, 2, rec.Verifications)
}
