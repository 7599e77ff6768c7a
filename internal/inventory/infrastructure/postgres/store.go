package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartaway/checkout/internal/inventory/domain"
)

// Store runs standalone ledger operations, each in its own transaction.
type Store struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	ledger *Ledger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool, ledger *Ledger) *Store {
	return &Store{log: log, pool: pool, ledger: ledger}
}

func (s *Store) Record(ctx context.Context, recordID int64) (domain.Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE id = $1`, recordID))
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Restock(ctx context.Context, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	var rec domain.Record
	var txn domain.Transaction
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, txn, err = s.ledger.Restock(ctx, tx, recordID, qty, ref, actor)
		return err
	})
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	return rec, txn, nil
}

func (s *Store) Adjust(ctx context.Context, recordID int64, delta int, ref, actor string) (domain.Record, domain.Transaction, error) {
	var rec domain.Record
	var txn domain.Transaction
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, txn, err = s.ledger.Adjust(ctx, tx, recordID, delta, ref, actor)
		return err
	})
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	return rec, txn, nil
}

func (s *Store) Transactions(ctx context.Context, recordID int64) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, record_id, transaction_type, quantity, delta,
			COALESCE(reference, ''), COALESCE(actor, ''), created_at
		FROM inventory_transactions
		WHERE record_id = $1
		ORDER BY id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.RecordID, &t.Type, &t.Quantity, &t.Delta,
			&t.Reference, &t.Actor, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetPrimaryWarehouse swaps the primary flag in one transaction so the
// at-most-one-primary invariant holds at every commit point.
func (s *Store) SetPrimaryWarehouse(ctx context.Context, warehouseID int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE warehouses SET is_primary = false, updated_at = now() WHERE is_primary`); err != nil {
			return err
		}
		var id int64
		err := tx.QueryRow(ctx,
			`UPDATE warehouses SET is_primary = true, updated_at = now() WHERE id = $1 RETURNING id`,
			warehouseID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrWarehouseNotFound
		}
		return err
	})
}
