// Package notification defines the events the pipeline emits for the external
// notification collaborator. Dispatch is fire-and-forget through the
// transactional outbox; nothing here is allowed to fail an order transition.
package notification

import "strconv"

// RefKind is a closed set of entities a notification can point at. Keeping it
// closed lets the compiler police exhaustive handling, unlike an open
// type/id pair.
type RefKind string

const (
	KindOrder     RefKind = "order"
	KindInventory RefKind = "inventory"
)

type Ref struct {
	Kind RefKind `json:"kind"`
	ID   int64   `json:"id"`
}

func OrderRef(id int64) Ref     { return Ref{Kind: KindOrder, ID: id} }
func InventoryRef(id int64) Ref { return Ref{Kind: KindInventory, ID: id} }

func (r Ref) AggregateType() string { return string(r.Kind) }
func (r Ref) AggregateID() string   { return strconv.FormatInt(r.ID, 10) }

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeLowStock           = "inventory.low_stock"
)

type OrderCreated struct {
	Ref         Ref    `json:"ref"`
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
	TotalAmount string `json:"total_amount"`
}

type OrderStatusChanged struct {
	Ref         Ref    `json:"ref"`
	OrderNumber string `json:"order_number"`
	From        string `json:"from"`
	To          string `json:"to"`
	Note        string `json:"note,omitempty"`
}

type LowStock struct {
	Ref       Ref   `json:"ref"`
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Threshold int   `json:"threshold"`
}
