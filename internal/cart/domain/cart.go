package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrCartNotFound = errors.New("cart not found")
)

// Cart is the mutable pre-checkout container. It is only ever deactivated by
// a successful order creation, never by the snapshot builder.
type Cart struct {
	ID     int64
	UserID int64
	Active bool
}

// PricedLine is a cart line joined with current catalog data. Prices here are
// live; freezing them is the snapshot builder's job.
type PricedLine struct {
	ProductID         int64
	VariantID         *int64
	Name              string
	SKU               string
	VariantLabel      string
	BasePrice         decimal.Decimal
	VariantAdjustment decimal.Decimal
	ComparePrice      decimal.Decimal
	Weight            decimal.Decimal
	Quantity          int
	// Inventory record at the primary warehouse; zero when none exists.
	InventoryRecordID int64
}

// SnapshotLine is one frozen line item. Nothing here changes when the catalog
// does.
type SnapshotLine struct {
	ProductID         int64
	VariantID         *int64
	InventoryRecordID int64
	Name              string
	SKU               string
	VariantLabel      string
	Quantity          int
	UnitPrice         decimal.Decimal
	LineTotal         decimal.Decimal
	Discount          decimal.Decimal
	Weight            decimal.Decimal
}

type Snapshot struct {
	CartID        int64
	Lines         []SnapshotLine
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	ItemCount     int
	TotalWeight   decimal.Decimal
}

// BuildSnapshot freezes the priced cart lines into an immutable snapshot.
// Unit price is the base product price plus the variant adjustment; discount
// is the compare-at saving when one applies. Read-only: the cart itself is
// untouched.
func BuildSnapshot(cartID int64, lines []PricedLine) (Snapshot, error) {
	if len(lines) == 0 {
		return Snapshot{}, ErrEmptyCart
	}

	snap := Snapshot{
		CartID:        cartID,
		Lines:         make([]SnapshotLine, 0, len(lines)),
		Subtotal:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalWeight:   decimal.Zero,
	}
	for i, l := range lines {
		if l.Quantity <= 0 {
			return Snapshot{}, fmt.Errorf("cart line %d: non-positive quantity %d", i, l.Quantity)
		}
		unit := l.BasePrice.Add(l.VariantAdjustment)
		qty := decimal.NewFromInt(int64(l.Quantity))

		var discount decimal.Decimal
		if l.ComparePrice.GreaterThan(unit) {
			discount = l.ComparePrice.Sub(unit).Mul(qty)
		}

		line := SnapshotLine{
			ProductID:         l.ProductID,
			VariantID:         l.VariantID,
			InventoryRecordID: l.InventoryRecordID,
			Name:              l.Name,
			SKU:               l.SKU,
			VariantLabel:      l.VariantLabel,
			Quantity:          l.Quantity,
			UnitPrice:         unit,
			LineTotal:         unit.Mul(qty),
			Discount:          discount,
			Weight:            l.Weight.Mul(qty),
		}
		snap.Lines = append(snap.Lines, line)
		snap.Subtotal = snap.Subtotal.Add(line.LineTotal)
		snap.TotalDiscount = snap.TotalDiscount.Add(discount)
		snap.ItemCount += l.Quantity
		snap.TotalWeight = snap.TotalWeight.Add(line.Weight)
	}
	return snap, nil
}
