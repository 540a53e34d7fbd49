package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	sqliteCreateLedgerSQL = `CREATE TABLE IF NOT EXISTS fee_ledger (
        instrument   TEXT NOT NULL,
        trigger_ts   INTEGER NOT NULL,
        cumulative   TEXT NOT NULL,
        trigger_id   TEXT NOT NULL,
        created_at   INTEGER NOT NULL,
        PRIMARY KEY (instrument, trigger_ts)
    )`

	sqliteCreateStateSQL = `CREATE TABLE IF NOT EXISTS engine_state (
        instrument           TEXT PRIMARY KEY,
        last_update_ts       INTEGER NOT NULL,
        cumulative           TEXT NOT NULL,
        price_at_last_update INTEGER NOT NULL,
        last_round_id        INTEGER NOT NULL,
        turb_percent         INTEGER NOT NULL,
        turb_last_cvi        INTEGER NOT NULL,
        turb_previous_cvi    INTEGER NOT NULL,
        turb_last_update_ts  INTEGER NOT NULL,
        turb_last_round_ts   INTEGER NOT NULL,
        trigger_id           TEXT NOT NULL,
        updated_at           INTEGER NOT NULL
    )`

	sqliteInsertLedgerSQL = `INSERT INTO fee_ledger (instrument, trigger_ts, cumulative, trigger_id, created_at)
    VALUES (?,?,?,?,?)`

	sqliteUpsertStateSQL = `INSERT INTO engine_state (
        instrument, last_update_ts, cumulative, price_at_last_update, last_round_id,
        turb_percent, turb_last_cvi, turb_previous_cvi, turb_last_update_ts, turb_last_round_ts,
        trigger_id, updated_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (instrument) DO UPDATE
    SET last_update_ts       = excluded.last_update_ts,
        cumulative           = excluded.cumulative,
        price_at_last_update = excluded.price_at_last_update,
        last_round_id        = excluded.last_round_id,
        turb_percent         = excluded.turb_percent,
        turb_last_cvi        = excluded.turb_last_cvi,
        turb_previous_cvi    = excluded.turb_previous_cvi,
        turb_last_update_ts  = excluded.turb_last_update_ts,
        turb_last_round_ts   = excluded.turb_last_round_ts,
        trigger_id           = excluded.trigger_id,
        updated_at           = excluded.updated_at`

	sqliteSelectStateSQL = `SELECT
        last_update_ts, cumulative, price_at_last_update, last_round_id,
        turb_percent, turb_last_cvi, turb_previous_cvi, turb_last_update_ts, turb_last_round_ts,
        trigger_id, updated_at
    FROM engine_state WHERE instrument = ?`

	sqliteListLedgerSQL = `SELECT trigger_ts, cumulative, created_at
    FROM fee_ledger
    WHERE instrument = ? AND trigger_ts >= ? AND trigger_ts <= ?
    ORDER BY trigger_ts`

	sqliteSelectValueSQL = `SELECT cumulative FROM fee_ledger
    WHERE instrument = ? AND trigger_ts = ?`
)

// SQLiteStore is the embedded default backend: a single-writer SQLite file
// in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path. An empty path
// defaults to $TMPDIR/volfunding/data.db.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "volfunding", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	for _, stmt := range []string{sqliteCreateLedgerSQL, sqliteCreateStateSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCheckpoint appends the ledger row and upserts the working state in a
// single transaction.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	cumulative := strconv.FormatUint(cp.Cumulative, 10)
	createdAt := cp.CreatedAt.Unix()

	if _, err := tx.ExecContext(ctx, sqliteInsertLedgerSQL,
		cp.Instrument, cp.Timestamp, cumulative, cp.TriggerID.String(), createdAt,
	); err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqliteUpsertStateSQL,
		cp.Instrument, cp.Timestamp, cumulative, cp.PriceAtLastUpdate, int64(cp.LastRoundID),
		int64(cp.Turbulence.Percent), cp.Turbulence.LastCVI, cp.Turbulence.PreviousCVI,
		cp.Turbulence.LastUpdate, cp.Turbulence.LastRoundTimestamp,
		cp.TriggerID.String(), createdAt,
	); err != nil {
		return fmt.Errorf("upsert engine state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the last applied checkpoint, or nil when none exists.
func (s *SQLiteStore) LoadLatest(ctx context.Context, instrument string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectStateSQL, instrument)

	var (
		cp            Checkpoint
		cumulativeStr string
		lastRoundID   int64
		turbPercent   int64
		triggerIDStr  string
		updatedAt     int64
	)
	err := row.Scan(
		&cp.Timestamp, &cumulativeStr, &cp.PriceAtLastUpdate, &lastRoundID,
		&turbPercent, &cp.Turbulence.LastCVI, &cp.Turbulence.PreviousCVI,
		&cp.Turbulence.LastUpdate, &cp.Turbulence.LastRoundTimestamp,
		&triggerIDStr, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}

	cp.Instrument = instrument
	cp.LastRoundID = uint64(lastRoundID)
	cp.Turbulence.Percent = uint64(turbPercent)
	cp.CreatedAt = time.Unix(updatedAt, 0).UTC()
	if cp.TriggerID, err = uuid.Parse(triggerIDStr); err != nil {
		return nil, fmt.Errorf("parse trigger id: %w", err)
	}
	if cp.Cumulative, err = strconv.ParseUint(cumulativeStr, 10, 64); err != nil {
		return nil, fmt.Errorf("parse cumulative value: %w", err)
	}
	return &cp, nil
}

// ListLedgerBetween returns ledger rows in [from, to] ordered by timestamp.
func (s *SQLiteStore) ListLedgerBetween(ctx context.Context, instrument string, from, to int64) ([]LedgerRow, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListLedgerSQL, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}
	defer rows.Close()

	out := make([]LedgerRow, 0)
	for rows.Next() {
		var (
			row           LedgerRow
			cumulativeStr string
			createdAt     int64
		)
		if err := rows.Scan(&row.Timestamp, &cumulativeStr, &createdAt); err != nil {
			return nil, err
		}
		if row.Cumulative, err = strconv.ParseUint(cumulativeStr, 10, 64); err != nil {
			return nil, fmt.Errorf("parse cumulative value: %w", err)
		}
		row.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// LedgerValueAt returns the exact-match ledger value at the timestamp.
func (s *SQLiteStore) LedgerValueAt(ctx context.Context, instrument string, timestamp int64) (uint64, bool, error) {
	var cumulativeStr string
	err := s.db.QueryRowContext(ctx, sqliteSelectValueSQL, instrument, timestamp).Scan(&cumulativeStr)
	if errors.Is(err, sql.ErrNoRows) {
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

var _ CheckpointStore = (*SQLiteStore)(nil)
