package domain

import (
	"errors"
	"fmt"
	"time"
)

type TransactionType string

const (
	TxRestock     TransactionType = "restock"
	TxSale        TransactionType = "sale"
	TxReservation TransactionType = "reservation"
	TxRelease     TransactionType = "release"
	TxAdjustment  TransactionType = "adjustment"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrRecordNotFound         = errors.New("inventory record not found")
	ErrReleaseExceedsReserved = errors.New("release exceeds reserved quantity")
	ErrAdjustmentUnderflow    = errors.New("adjustment would drive quantity below reserved")
)

// InsufficientStockError reports a reservation or consumption that could not
// be satisfied. It is surfaced to the caller and never retried internally.
type InsufficientStockError struct {
	RecordID  int64
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.RecordID == 0 {
		return fmt.Sprintf("no inventory record for product %d: requested %d",
			e.ProductID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock on record %d (product %d): requested %d, available %d",
		e.RecordID, e.ProductID, e.Requested, e.Available)
}

// Record holds the stock counters for one (product, variant, warehouse) key.
// Invariant: 0 <= Reserved <= Quantity at all times.
type Record struct {
	ID                int64
	ProductID         int64
	VariantID         *int64
	WarehouseID       int64
	Quantity          int
	Reserved          int
	LowStockThreshold int
	LastRestockAt     *time.Time
	LastRestockQty    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transaction is one append-only ledger entry. Delta is the change to on-hand
// quantity; reservations and releases move the reserved counter only, so
// their delta is zero and Quantity carries the magnitude of the hold.
type Transaction struct {
	ID        int64
	RecordID  int64
	Type      TransactionType
	Quantity  int
	Delta     int
	Reference string
	Actor     string
	CreatedAt time.Time
}

func (r *Record) Available() int {
	return r.Quantity - r.Reserved
}

func (r *Record) LowStock() bool {
	return r.Available() <= r.LowStockThreshold
}

func (r *Record) tx(t TransactionType, qty, delta int, ref, actor string) Transaction {
	return Transaction{
		RecordID:  r.ID,
		Type:      t,
		Quantity:  qty,
		Delta:     delta,
		Reference: ref,
		Actor:     actor,
	}
}

// Reserve places a hold against available stock.
func (r *Record) Reserve(qty int, ref, actor string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if r.Available() < qty {
		return Transaction{}, &InsufficientStockError{RecordID: r.ID, ProductID: r.ProductID, Requested: qty, Available: r.Available()}
	}
	r.Reserved += qty
	return r.tx(TxReservation, qty, 0, ref, actor), nil
}

// Release returns a hold to available stock, used on cancellation before
// shipment.
func (r *Record) Release(qty int, ref, actor string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if r.Reserved < qty {
		return Transaction{}, ErrReleaseExceedsReserved
	}
	r.Reserved -= qty
	return r.tx(TxRelease, qty, 0, ref, actor), nil
}

// Consume permanently decrements stock at shipment. The hold and the
// unreserved balance must each cover the full quantity; partial shipment is
// not supported.
func (r *Record) Consume(qty int, ref, actor string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if r.Available() < qty || r.Reserved < qty {
		return Transaction{}, &InsufficientStockError{RecordID: r.ID, ProductID: r.ProductID, Requested: qty, Available: r.Available()}
	}
	r.Quantity -= qty
	r.Reserved -= qty
	return r.tx(TxSale, qty, -qty, ref, actor), nil
}

// Restock adds on-hand stock unconditionally.
func (r *Record) Restock(qty int, ref, actor string, now time.Time) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	r.Quantity += qty
	r.LastRestockAt = &now
	r.LastRestockQty = qty
	return r.tx(TxRestock, qty, qty, ref, actor), nil
}

// Adjust applies a signed manual correction. It may not drive quantity below
// the reserved counter (and therefore never below zero).
func (r *Record) Adjust(delta int, ref, actor string) (Transaction, error) {
	if delta == 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if r.Quantity+delta < r.Reserved {
		return Transaction{}, ErrAdjustmentUnderflow
	}
	r.Quantity += delta
	qty := delta
	if qty < 0 {
		qty = -qty
	}
	return r.tx(TxAdjustment, qty, delta, ref, actor), nil
}
