package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/purescribe/internal/reconcile"
)

// Schema is the SQL DDL for the transcripts table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          TEXT PRIMARY KEY,
    segments    JSONB NOT NULL DEFAULT '[]',
    text        TEXT NOT NULL DEFAULT '',
    source_lang TEXT NOT NULL DEFAULT '',
    target_lang TEXT NOT NULL DEFAULT '',
    translation TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Segments are kept as
// JSONB; the joined text is denormalised for full-text tooling.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a PostgresStore using db. Call
// [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects a pgx pool to dsn and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the transcripts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, t *Transcript) error {
	if err := t.Validate(); err != nil {
		return err
	}
	segs := t.Segments
	if segs == nil {
		segs = []reconcile.Segment{}
	}
	segJSON, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("store: marshal segments: %w", err)
	}

	const query = `
		INSERT INTO transcripts (id, segments, text, source_lang, target_lang, translation)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			segments = EXCLUDED.segments,
			text = EXCLUDED.text,
			source_lang = EXCLUDED.source_lang,
			target_lang = EXCLUDED.target_lang,
			translation = EXCLUDED.translation,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		t.ID, segJSON, t.Text(), t.SourceLang, t.TargetLang, t.Translation,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", t.ID, err)
	}
	return nil
}

const selectColumns = `id, segments, source_lang, target_lang, translation, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transcript, error) {
	const query = `SELECT ` + selectColumns + ` FROM transcripts WHERE id = $1`

	t, err := scanTranscript(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Transcript, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		const query = `SELECT ` + selectColumns + ` FROM transcripts ORDER BY created_at DESC, id DESC LIMIT $1`
		rows, err = s.db.Query(ctx, query, limit)
	} else {
		const query = `SELECT ` + selectColumns + ` FROM transcripts ORDER BY created_at DESC, id DESC`
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	return nil
}

// scanTranscript reads one row of selectColumns.
func scanTranscript(row pgx.Row) (*Transcript, error) {
	var (
		t       Transcript
		segJSON []byte
	)
	if err := row.Scan(&t.ID, &segJSON, &t.SourceLang, &t.TargetLang, &t.Translation, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(segJSON, &t.Segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	return &t, nil
}
