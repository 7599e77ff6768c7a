package application

import (
	"context"

	"github.com/cartaway/checkout/internal/inventory/domain"
)

// Store executes single-record ledger mutations, each in its own transaction
// with the record row locked and exactly one transaction entry appended.
type Store interface {
	Record(ctx context.Context, recordID int64) (domain.Record, error)
	Restock(ctx context.Context, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error)
	Adjust(ctx context.Context, recordID int64, delta int, ref, actor string) (domain.Record, domain.Transaction, error)
	Transactions(ctx context.Context, recordID int64) ([]domain.Transaction, error)
	SetPrimaryWarehouse(ctx context.Context, warehouseID int64) error
}
