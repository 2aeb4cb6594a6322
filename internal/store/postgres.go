package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/verbly-ai/verbly/internal/conversation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is the PostgreSQL-backed [SnapshotStore]. Character,
// scenario, and turn history are stored as JSONB alongside the scalar
// session fields.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ SnapshotStore = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and runs the embedded
// schema migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// migrate applies the embedded goose migrations through pgx's database/sql
// adapter.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity; used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements [SnapshotStore].
func (s *PostgresStore) Save(ctx context.Context, snap conversation.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("saving snapshot: empty session id")
	}
	character, err := json.Marshal(snap.Character)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	scen, err := json.Marshal(snap.Scenario)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	turns, err := json.Marshal(snap.Turns)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	const q = `
		INSERT INTO sessions (id, persona, scenario, turns, progress, auto_listen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    persona     = EXCLUDED.persona,
		    scenario    = EXCLUDED.scenario,
		    turns       = EXCLUDED.turns,
		    progress    = EXCLUDED.progress,
		    auto_listen = EXCLUDED.auto_listen,
		    updated_at  = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, q,
		snap.ID, character, scen, turns,
		snap.Progress, snap.AutoListen, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	return nil
}

// Load implements [SnapshotStore].
func (s *PostgresStore) Load(ctx context.Context, id string) (conversation.Snapshot, error) {
	const q = `
		SELECT id, persona, scenario, turns, progress, auto_listen, created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return conversation.Snapshot{}, fmt.Errorf("session store: load: %w", err)
	}
	snap, err := pgx.CollectOneRow(rows, scanSnapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.Snapshot{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return conversation.Snapshot{}, fmt.Errorf("session store: load: %w", err)
	}
	return snap, nil
}

// List implements [SnapshotStore].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]conversation.Snapshot, error) {
	q := `
		SELECT id, persona, scenario, turns, progress, auto_listen, created_at, updated_at
		FROM   sessions
		ORDER  BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	snaps, err := pgx.CollectRows(rows, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	return snaps, nil
}

// Delete implements [SnapshotStore].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.CollectableRow) (conversation.Snapshot, error) {
	var (
		snap      conversation.Snapshot
		character []byte
		scen      []byte
		turns     []byte
	)
	if err := row.Scan(
		&snap.ID, &character, &scen, &turns,
		&snap.Progress, &snap.AutoListen, &snap.CreatedAt, &snap.UpdatedAt,
	); err != nil {
		return conversation.Snapshot{}, err
	}
	if err := json.Unmarshal(character, &snap.Character); err != nil {
		return conversation.Snapshot{}, fmt.Errorf("decoding character: %w", err)
	}
	if err := json.Unmarshal(scen, &snap.Scenario); err != nil {
		return conversation.Snapshot{}, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := json.Unmarshal(turns, &snap.Turns); err != nil {
		return conversation.Snapshot{}, fmt.Errorf("decoding turns: %w", err)
	}
	return snap, nil
}
