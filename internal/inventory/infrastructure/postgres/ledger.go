package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cartaway/checkout/internal/inventory/domain"
)

// Querier is the slice of pgx shared by *pgxpool.Pool and pgx.Tx, so ledger
// operations can run standalone or inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the only component that mutates stock counters. Every operation
// locks the record row, applies the domain rule, writes the counters back and
// appends exactly one inventory transaction.
type Ledger struct {
	log *slog.Logger
}

func NewLedger(log *slog.Logger) *Ledger {
	return &Ledger{log: log}
}

const recordColumns = `id, product_id, variant_id, warehouse_id, quantity, reserved_quantity,
	low_stock_threshold, last_restock_at, COALESCE(last_restock_quantity, 0), created_at, updated_at`

func scanRecord(row pgx.Row) (domain.Record, error) {
	var rec domain.Record
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.VariantID, &rec.WarehouseID,
		&rec.Quantity, &rec.Reserved, &rec.LowStockThreshold,
		&rec.LastRestockAt, &rec.LastRestockQty, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// Lock loads the record under FOR UPDATE, serialising concurrent mutations of
// the same row.
func (l *Ledger) Lock(ctx context.Context, q Querier, recordID int64) (domain.Record, error) {
	return scanRecord(q.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE id = $1 FOR UPDATE`, recordID))
}

func (l *Ledger) apply(ctx context.Context, q Querier, rec *domain.Record, txn domain.Transaction) (domain.Transaction, error) {
	_, err := q.Exec(ctx, `
		UPDATE inventory_records
		SET quantity = $2, reserved_quantity = $3, last_restock_at = $4,
			last_restock_quantity = NULLIF($5, 0), updated_at = now()
		WHERE id = $1`,
		rec.ID, rec.Quantity, rec.Reserved, rec.LastRestockAt, rec.LastRestockQty)
	if err != nil {
		return domain.Transaction{}, err
	}
	err = q.QueryRow(ctx, `
		INSERT INTO inventory_transactions (record_id, transaction_type, quantity, delta, reference, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		txn.RecordID, txn.Type, txn.Quantity, txn.Delta, txn.Reference, txn.Actor).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (l *Ledger) mutate(ctx context.Context, q Querier, recordID int64,
	op func(*domain.Record) (domain.Transaction, error)) (domain.Record, domain.Transaction, error) {

	rec, err := l.Lock(ctx, q, recordID)
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	txn, err := op(&rec)
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	txn, err = l.apply(ctx, q, &rec, txn)
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	return rec, txn, nil
}

func (l *Ledger) Reserve(ctx context.Context, q Querier, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	return l.mutate(ctx, q, recordID, func(r *domain.Record) (domain.Transaction, error) {
		return r.Reserve(qty, ref, actor)
	})
}

func (l *Ledger) Release(ctx context.Context, q Querier, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	return l.mutate(ctx, q, recordID, func(r *domain.Record) (domain.Transaction, error) {
		return r.Release(qty, ref, actor)
	})
}

func (l *Ledger) Consume(ctx context.Context, q Querier, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	return l.mutate(ctx, q, recordID, func(r *domain.Record) (domain.Transaction, error) {
		return r.Consume(qty, ref, actor)
	})
}

func (l *Ledger) Restock(ctx context.Context, q Querier, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	now := time.Now().UTC()
	return l.mutate(ctx, q, recordID, func(r *domain.Record) (domain.Transaction, error) {
		return r.Restock(qty, ref, actor, now)
	})
}

func (l *Ledger) Adjust(ctx context.Context, q Querier, recordID int64, delta int, ref, actor string) (domain.Record, domain.Transaction, error) {
	return l.mutate(ctx, q, recordID, func(r *domain.Record) (domain.Transaction, error) {
		return r.Adjust(delta, ref, actor)
	})
}
