package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgOperationTimeout = 5 * time.Second

const (
	checkpointKey = "checkpoint"
)

// PostgresBackend persists state in two key/snapshot tables, for operators
// who run the migration from ephemeral hosts where a state directory would
// not survive.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	b := &PostgresBackend{pool: pool}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pgOperationTimeout)
	defer cancel()
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chatmig_state (
			state_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chatmig_threads (
			channel TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create threads table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) LoadCheckpoint() (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOperationTimeout)
	defer cancel()

	var snapshot string
	err := b.pool.QueryRow(ctx,
		`SELECT snapshot FROM chatmig_state WHERE state_key = $1`, checkpointKey).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(snapshot), &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

func (b *PostgresBackend) SaveCheckpoint(cp *Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pgOperationTimeout)
	defer cancel()
	_, err = b.pool.Exec(ctx, `
		INSERT INTO chatmig_state (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		checkpointKey, string(payload))
	return err
}

func (b *PostgresBackend) LoadThreads(channel string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOperationTimeout)
	defer cancel()

	var snapshot string
	err := b.pool.QueryRow(ctx,
		`SELECT snapshot FROM chatmig_threads WHERE channel = $1`, channel).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	var threads map[string]string
	if err := json.Unmarshal([]byte(snapshot), &threads); err != nil {
		return nil, fmt.Errorf("parse threads: %w", err)
	}
	return threads, nil
}

func (b *PostgresBackend) SaveThreads(channel string, threads map[string]string) error {
	payload, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("marshal threads: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pgOperationTimeout)
	defer cancel()
	_, err = b.pool.Exec(ctx, `
		INSERT INTO chatmig_threads (channel, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (channel)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		channel, string(payload))
	return err
}

func (b *PostgresBackend) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOperationTimeout)
	defer cancel()
	if _, err := b.pool.Exec(ctx, `DELETE FROM chatmig_state`); err != nil {
		return err
	}
	_, err := b.pool.Exec(ctx, `DELETE FROM chatmig_threads`)
	return err
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
