package application

import (
	"context"
	"log/slog"

	"github.com/cartaway/checkout/internal/inventory/domain"
)

// Service fronts the inventory ledger for manual stock operations. The ledger
// knows nothing about orders; callers pass a reference string for
// traceability.
type Service struct {
	log   *slog.Logger
	store Store
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

func (s *Service) Record(ctx context.Context, recordID int64) (domain.Record, error) {
	return s.store.Record(ctx, recordID)
}

func (s *Service) Restock(ctx context.Context, recordID int64, qty int, ref, actor string) (domain.Record, domain.Transaction, error) {
	if ref == "" {
		ref = "manual restock"
	}
	rec, txn, err := s.store.Restock(ctx, recordID, qty, ref, actor)
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	s.log.Info("inventory restocked", "record_id", recordID, "quantity", qty, "reference", ref)
	return rec, txn, nil
}

func (s *Service) Adjust(ctx context.Context, recordID int64, delta int, ref, actor string) (domain.Record, domain.Transaction, error) {
	if ref == "" {
		ref = "manual adjustment"
	}
	rec, txn, err := s.store.Adjust(ctx, recordID, delta, ref, actor)
	if err != nil {
		return domain.Record{}, domain.Transaction{}, err
	}
	s.log.Info("inventory adjusted", "record_id", recordID, "delta", delta, "reference", ref)
	return rec, txn, nil
}

func (s *Service) Transactions(ctx context.Context, recordID int64) ([]domain.Transaction, error) {
	return s.store.Transactions(ctx, recordID)
}

// SetPrimaryWarehouse unsets the previous primary and sets the new one in a
// single transaction.
func (s *Service) SetPrimaryWarehouse(ctx context.Context, warehouseID int64) error {
	if err := s.store.SetPrimaryWarehouse(ctx, warehouseID); err != nil {
		return err
	}
	s.log.Info("primary warehouse changed", "warehouse_id", warehouseID)
	return nil
}
