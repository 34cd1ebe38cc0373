package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medhash-labs/medhash/pkg/commitment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := Open(DialectSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLStore(db, DialectSQLite, testLogger())
	require.NoError(t, store.Init(context.Background()))
	return store
}

var testTS = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func TestSQLStoreSubmitAndLookup(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	h := commitment.Hasher{}
	c := h.Commit("12345678", "a summary", testTS)

	rec, err := store.Submit(ctx, c, testTS)
	require.NoError(t, err)
	assert.True(t, commitment.Equal(c, rec.Commitment))
	assert.Equal(t, testTS, rec.Timestamp)
	assert.NotEmpty(t, rec.SubmissionRef)
	assert.EqualValues(t, 0, rec.Verifications)

	got, found, err := store.Lookup(ctx, c)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.SubmissionRef, got.SubmissionRef)
	assert.EqualValues(t, 1, got.Verifications)
	require.NotNil(t, got.LastVerified)
}

func TestSQLStoreSubmitIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	c := commitment.Hasher{}.Commit("12345678", "a summary", testTS)

	first, err := store.Submit(ctx, c, testTS)
	require.NoError(t, err)

	// Re-submitting the same commitment returns the original record,
	// not a new one.
	second, err := store.Submit(ctx, c, testTS)
	require.NoError(t, err)
	assert.Equal(t, first.SubmissionRef, second.SubmissionRef)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestSQLStoreNegativeLookup(t *testing.T) {
	store := newSQLiteStore(t)

	c := commitment.Hasher{}.Commit("12345678", "never stored", testTS)
	rec, found, err := store.Lookup(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, rec.SubmissionRef)
}

func TestSQLStoreVerificationCounter(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	c := commitment.Hasher{}.Commit("12345678", "counted", testTS)
	_, err := store.Submit(ctx, c, testTS)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		rec, found, err := store.Lookup(ctx, c)
		require.NoError(t, err)
		require.True(t, found)
		assert.EqualValues(t, i, rec.Verifications)
	}
}

func TestSQLStoreTimestampCanonicalized(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	// Sub-second precision and zone offset are dropped before storage.
	noisy := testTS.Add(750 * time.Millisecond).In(time.FixedZone("EST", -5*3600))
	c := commitment.Hasher{}.Commit("12345678", "a summary", noisy)

	rec, err := store.Submit(ctx, c, noisy)
	require.NoError(t, err)
	assert.Equal(t, testTS, rec.Timestamp)
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING")
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2) ON CONFLICT DO NOTHING", got)

	sqlite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ?", sqlite.rebind("SELECT ?"))
}

func TestExplorerURL(t *testing.T) {
	assert.Equal(t, "https://explorer.example/tx/abc",
		ExplorerURL("https://explorer.example/tx/{ref}", "abc"))
	assert.Equal(t, "", ExplorerURL("", "abc"))
}
