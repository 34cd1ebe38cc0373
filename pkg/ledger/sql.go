package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/medhash-labs/medhash/pkg/commitment"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Ledger over database/sql with sqlite or postgres.
// The commitment column is the primary key; store-if-absent rides on
// INSERT ... ON CONFLICT DO NOTHING, which both engines support.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS proofs (
	commitment TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	submission_ref TEXT NOT NULL,
	record_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	verifications INTEGER NOT NULL DEFAULT 0,
	last_verified TEXT
);`

// Init creates the schema.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Submit implements Ledger.
func (s *SQLStore) Submit(ctx context.Context, c commitment.Commitment, ts time.Time) (ProofRecord, error) {
	ref := uuid.NewString()
	canonicalTS := commitment.CanonicalTimestamp(ts)
	createdAt := s.now().UTC().Format(time.RFC3339)

	recordHash, err := recordHash(c, canonicalTS, ref)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: record hash: %w", err)
	}

	insert := s.rebind(`INSERT INTO proofs (commitment, ts, submission_ref, record_hash, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (commitment) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, insert, c.String(), canonicalTS, ref, recordHash, createdAt); err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: insert: %w", err)
	}

	// Read back whichever row won: ours, or the one that was already
	// there from an earlier submission of the same commitment.
	rec, found, err := s.fetch(ctx, c)
	if err != nil {
		return ProofRecord{}, err
	}
	if !found {
		return ProofRecord{}, fmt.Errorf("ledger: record vanished after insert for %s", c)
	}
	return rec, nil
}

// Lookup implements Ledger. Each hit bumps the verification counter;
// that update is best-effort and never fails the lookup.
func (s *SQLStore) Lookup(ctx context.Context, c commitment.Commitment) (ProofRecord, bool, error) {
	rec, found, err := s.fetch(ctx, c)
	if err != nil || !found {
		return ProofRecord{}, false, err
	}

	verifiedAt := s.now().UTC()
	update := s.rebind(`UPDATE proofs SET verifications = verifications + 1, last_verified = ? WHERE commitment = ?`)
	if _, err := s.db.ExecContext(ctx, update, verifiedAt.Format(time.RFC3339), c.String()); err != nil {
		s.logger.WarnContext(ctx, "verification counter update failed", "commitment", c.String(), "error", err)
	} else {
		rec.Verifications++
		rec.LastVerified = &verifiedAt
	}
	return rec, true, nil
}

func (s *SQLStore) fetch(ctx context.Context, c commitment.Commitment) (ProofRecord, bool, error) {
	query := s.rebind(`SELECT commitment, ts, submission_ref, created_at, verifications, last_verified
		FROM proofs WHERE commitment = ?`)
	row := s.db.QueryRowContext(ctx, query, c.String())

	var (
		commitmentHex string
		tsRaw         string
		ref           string
		createdRaw    string
		verifications int64
		lastVerified  sql.NullString
	)
	if err := row.Scan(&commitmentHex, &tsRaw, &ref, &createdRaw, &verifications, &lastVerified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProofRecord{}, false, nil
		}
		return ProofRecord{}, false, fmt.Errorf("ledger: scan: %w", err)
	}

	parsed, err := commitment.Parse(commitmentHex)
	if err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: stored commitment corrupt: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: stored timestamp corrupt: %w", err)
	}
	created, err := time.Parse(time.RFC3339, createdRaw)
	if err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: stored created_at corrupt: %w", err)
	}

	rec := ProofRecord{
		Commitment:    parsed,
		Timestamp:     ts,
		SubmissionRef: ref,
		CreatedAt:     created,
		Verifications: verifications,
	}
	if lastVerified.Valid {
		if lv, err := time.Parse(time.RFC3339, lastVerified.String); err == nil {
			rec.LastVerified = &lv
		}
	}
	return rec, true, nil
}

// recordHash is an integrity digest over the canonical JSON (RFC 8785)
// of the stored record fields.
func recordHash(c commitment.Commitment, canonicalTS, ref string) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"commitment":     c.String(),
		"timestamp":      canonicalTS,
		"submission_ref": ref,
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open opens a database handle for the given dialect and DSN.
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite:
		return sql.Open("sqlite", dsn)
	case DialectPostgres:
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("ledger: unknown dialect %q", dialect)
	}
}
