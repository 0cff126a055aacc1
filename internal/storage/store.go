// Package storage persists the position book and the append-only
// transaction journal in SQLite, plus a JSON snapshot for quick
// inspection. The database is authoritative at startup; the snapshot
// only seeds an empty database.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/sarna320/scalp/internal/domain"
)

// Store handles persistent storage of positions and transactions.
type Store struct {
	db *sql.DB
}

// Open creates a SQLite store with WAL mode enabled and the schema
// in place.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// One row per subnet; the current average-cost position.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			netuid INTEGER PRIMARY KEY,
			total_alpha_rao INTEGER NOT NULL,
			total_tao_spent_rao INTEGER NOT NULL,
			realized_profit_rao INTEGER NOT NULL,
			total_fee_paid_rao INTEGER NOT NULL,
			num_transactions INTEGER NOT NULL,
			last_updated_us INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create positions table: %w", err)
	}

	// Append-only journal of every fill, never updated or deleted.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			netuid INTEGER NOT NULL,
			validator_hotkey TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('BUY', 'SELL')),
			tao_delta_rao INTEGER NOT NULL,
			alpha_delta_rao INTEGER NOT NULL,
			fee_paid_rao INTEGER NOT NULL,
			realized_profit_rao INTEGER,
			extrinsic_hash TEXT NOT NULL DEFAULT '',
			block_hash TEXT NOT NULL DEFAULT '',
			block_number INTEGER NOT NULL DEFAULT 0,
			created_at_us INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transactions table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transactions_netuid
		ON transactions (netuid, created_at_us);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transactions index: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordFill appends the transaction and upserts the resulting position
// in a single database transaction. A crash leaves either both rows or
// neither, so the journal and the book cannot diverge.
func (s *Store) RecordFill(ctx context.Context, tx domain.Transaction, pos domain.Position) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions
			(netuid, validator_hotkey, direction, tao_delta_rao, alpha_delta_rao,
			 fee_paid_rao, realized_profit_rao, extrinsic_hash, block_hash,
			 block_number, created_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.NetUID, tx.ValidatorHotkey, string(tx.Direction), tx.TaoDeltaRao,
		tx.AlphaDeltaRao, tx.FeePaidRao, tx.RealizedProfitRao, tx.ExtrinsicHash,
		tx.BlockHash, tx.BlockNumber, tx.CreatedAtUnixM,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := upsertPosition(ctx, dbTx, pos); err != nil {
		return err
	}

	return dbTx.Commit()
}

// UpsertPosition writes the position row outside of a fill, for attempt
// fees and reconcile adjustments.
func (s *Store) UpsertPosition(ctx context.Context, pos domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertPosition(ctx, tx, pos); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertPosition(ctx context.Context, tx *sql.Tx, pos domain.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions
			(netuid, total_alpha_rao, total_tao_spent_rao, realized_profit_rao,
			 total_fee_paid_rao, num_transactions, last_updated_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(netuid) DO UPDATE SET
			total_alpha_rao=excluded.total_alpha_rao,
			total_tao_spent_rao=excluded.total_tao_spent_rao,
			realized_profit_rao=excluded.realized_profit_rao,
			total_fee_paid_rao=excluded.total_fee_paid_rao,
			num_transactions=excluded.num_transactions,
			last_updated_us=excluded.last_updated_us`,
		pos.NetUID, pos.TotalAlphaRao, pos.TotalTaoSpentRao,
		pos.RealizedProfitRao, pos.TotalFeePaidRao, pos.NumTransactions,
		pos.LastUpdatedUnixM,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// LoadPositions reads every position row, keyed by netuid.
func (s *Store) LoadPositions(ctx context.Context) (map[uint16]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT netuid, total_alpha_rao, total_tao_spent_rao,
		       realized_profit_rao, total_fee_paid_rao, num_transactions,
		       last_updated_us
		FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[uint16]domain.Position)
	for rows.Next() {
		var pos domain.Position
		if err := rows.Scan(&pos.NetUID, &pos.TotalAlphaRao, &pos.TotalTaoSpentRao,
			&pos.RealizedProfitRao, &pos.TotalFeePaidRao, &pos.NumTransactions,
			&pos.LastUpdatedUnixM); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions[pos.NetUID] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return positions, nil
}

// Transactions loads the journal for one subnet in insertion order.
func (s *Store) Transactions(ctx context.Context, netuid uint16) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, netuid, validator_hotkey, direction, tao_delta_rao,
		       alpha_delta_rao, fee_paid_rao, realized_profit_rao,
		       extrinsic_hash, block_hash, block_number, created_at_us
		FROM transactions WHERE netuid = ? ORDER BY id ASC`, netuid)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var dir string
		if err := rows.Scan(&tx.ID, &tx.NetUID, &tx.ValidatorHotkey, &dir,
			&tx.TaoDeltaRao, &tx.AlphaDeltaRao, &tx.FeePaidRao,
			&tx.RealizedProfitRao, &tx.ExtrinsicHash, &tx.BlockHash,
			&tx.BlockNumber, &tx.CreatedAtUnixM); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Direction = domain.Direction(dir)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return txs, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
