package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createLedgerTableSQL = `CREATE TABLE IF NOT EXISTS fee_ledger (
        instrument   TEXT NOT NULL,
        trigger_ts   BIGINT NOT NULL,
        cumulative   NUMERIC(30,0) NOT NULL,
        trigger_id   UUID NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (instrument, trigger_ts)
    );`

	createStateTableSQL = `CREATE TABLE IF NOT EXISTS engine_state (
        instrument           TEXT PRIMARY KEY,
        last_update_ts       BIGINT NOT NULL,
        cumulative           NUMERIC(30,0) NOT NULL,
        price_at_last_update BIGINT NOT NULL,
        last_round_id        BIGINT NOT NULL,
        turb_percent         BIGINT NOT NULL,
        turb_last_cvi        BIGINT NOT NULL,
        turb_previous_cvi    BIGINT NOT NULL,
        turb_last_update_ts  BIGINT NOT NULL,
        turb_last_round_ts   BIGINT NOT NULL,
        trigger_id           UUID NOT NULL,
        updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertLedgerRowSQL = `INSERT INTO fee_ledger (instrument, trigger_ts, cumulative, trigger_id, created_at)
    VALUES ($1,$2,$3,$4,$5);`

	upsertStateSQL = `INSERT INTO engine_state (
        instrument, last_update_ts, cumulative, price_at_last_update, last_round_id,
        turb_percent, turb_last_cvi, turb_previous_cvi, turb_last_update_ts, turb_last_round_ts,
        trigger_id, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (instrument) DO UPDATE
    SET last_update_ts       = EXCLUDED.last_update_ts,
        cumulative           = EXCLUDED.cumulative,
        price_at_last_update = EXCLUDED.price_at_last_update,
        last_round_id        = EXCLUDED.last_round_id,
        turb_percent         = EXCLUDED.turb_percent,
        turb_last_cvi        = EXCLUDED.turb_last_cvi,
        turb_previous_cvi    = EXCLUDED.turb_previous_cvi,
        turb_last_update_ts  = EXCLUDED.turb_last_update_ts,
        turb_last_round_ts   = EXCLUDED.turb_last_round_ts,
        trigger_id           = EXCLUDED.trigger_id,
        updated_at           = EXCLUDED.updated_at;`

	selectLatestStateSQL = `SELECT
        last_update_ts, cumulative, price_at_last_update, last_round_id,
        turb_percent, turb_last_cvi, turb_previous_cvi, turb_last_update_ts, turb_last_round_ts,
        trigger_id, updated_at
    FROM engine_state
    WHERE instrument = $1;`

	listLedgerBetweenSQL = `SELECT trigger_ts, cumulative, created_at
    FROM fee_ledger
    WHERE instrument = $1 AND trigger_ts >= $2 AND trigger_ts <= $3
    ORDER BY trigger_ts;`

	selectLedgerValueSQL = `SELECT cumulative FROM fee_ledger
    WHERE instrument = $1 AND trigger_ts = $2;`
)

// PostgresStore persists checkpoints in PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	s := &PostgresStore{pool: pool}
	for _, stmt := range []string{createLedgerTableSQL, createStateTableSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveCheckpoint appends the ledger row and upserts the working state in a
// single transaction.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cumulative := strconv.FormatUint(cp.Cumulative, 10)

	if _, err := tx.Exec(ctx, insertLedgerRowSQL,
		cp.Instrument, cp.Timestamp, cumulative, cp.TriggerID, cp.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertStateSQL,
		cp.Instrument, cp.Timestamp, cumulative, cp.PriceAtLastUpdate, int64(cp.LastRoundID),
		int64(cp.Turbulence.Percent), cp.Turbulence.LastCVI, cp.Turbulence.PreviousCVI,
		cp.Turbulence.LastUpdate, cp.Turbulence.LastRoundTimestamp,
		cp.TriggerID, cp.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert engine state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the last applied checkpoint for the instrument, or nil
// when none exists.
func (s *PostgresStore) LoadLatest(ctx context.Context, instrument string) (*Checkpoint, error) {
	row := s.pool.QueryRow(ctx, selectLatestStateSQL, instrument)

	var (
		cp            Checkpoint
		cumulativeStr string
		lastRoundID   int64
		turbPercent   int64
		createdAt     time.Time
	)
	err := row.Scan(
		&cp.Timestamp, &cumulativeStr, &cp.PriceAtLastUpdate, &lastRoundID,
		&turbPercent, &cp.Turbulence.LastCVI, &cp.Turbulence.PreviousCVI,
		&cp.Turbulence.LastUpdate, &cp.Turbulence.LastRoundTimestamp,
		&cp.TriggerID, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}

	cp.Instrument = instrument
	cp.CreatedAt = createdAt
	cp.LastRoundID = uint64(lastRoundID)
	cp.Turbulence.Percent = uint64(turbPercent)
	cp.Cumulative, err = strconv.ParseUint(cumulativeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse cumulative value: %w", err)
	}
	return &cp, nil
}

// ListLedgerBetween returns ledger rows in [from, to] ordered by timestamp.
func (s *PostgresStore) ListLedgerBetween(ctx context.Context, instrument string, from, to int64) ([]LedgerRow, error) {
	rows, err := s.pool.Query(ctx, listLedgerBetweenSQL, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}
	defer rows.Close()

	out := make([]LedgerRow, 0)
	for rows.Next() {
		var (
			row           LedgerRow
			cumulativeStr string
		)
		if err := rows.Scan(&row.Timestamp, &cumulativeStr, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Cumulative, err = strconv.ParseUint(cumulativeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cumulative value: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LedgerValueAt returns the exact-match ledger value at the timestamp.
func (s *PostgresStore) LedgerValueAt(ctx context.Context, instrument string, timestamp int64) (uint64, bool, error) {
	var cumulativeStr string
	err := s.pool.QueryRow(ctx, selectLedgerValueSQL, instrument, timestamp).Scan(&cumulativeStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query ledger value: %w", err)
	}
	v, err := strconv.ParseUint(cumulativeStr, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cumulative value: %w", err)
	}
	return v, true, nil
}

var _ CheckpointStore = (*PostgresStore)(nil)
