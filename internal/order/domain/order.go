package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// transitions is the single source of truth for status legality, consumed by
// both validation and the transition executor.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

var ErrOrderNotFound = errors.New("order not found")

// ErrConflict marks a checkout or transition aborted by concurrent access or
// a transactional timeout; the caller retries the whole operation.
var ErrConflict = errors.New("concurrent modification, retry the operation")

type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// CanTransition reports whether new is reachable from cur in one step.
func CanTransition(cur, next Status) bool {
	for _, s := range transitions[cur] {
		if s == next {
			return true
		}
	}
	return false
}

func AllowedTransitions(cur Status) []Status {
	return transitions[cur]
}

// ReleasesStock reports whether moving cur -> cancelled returns reservations
// to available stock. Shipped and delivered orders cannot be cancelled at
// all, so this only concerns pre-shipment states.
func ReleasesStock(cur Status) bool {
	return cur == StatusPending || cur == StatusConfirmed || cur == StatusProcessing
}

type Customer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Address is copied in full onto the order so it survives later changes to a
// customer's saved address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

func (a Address) Validate(prefix string) error {
	switch {
	case a.Line1 == "":
		return &ValidationError{Field: prefix + "_address_line1", Reason: "required"}
	case a.City == "":
		return &ValidationError{Field: prefix + "_city", Reason: "required"}
	case a.State == "":
		return &ValidationError{Field: prefix + "_state", Reason: "required"}
	case a.PostalCode == "":
		return &ValidationError{Field: prefix + "_postal_code", Reason: "required"}
	case a.Country == "":
		return &ValidationError{Field: prefix + "_country", Reason: "required"}
	}
	return nil
}

// Line is an immutable snapshot of what was bought: name, SKU and price are
// frozen at order creation regardless of later catalog changes.
type Line struct {
	ID                int64
	OrderID           int64
	ProductID         int64
	VariantID         *int64
	InventoryRecordID int64
	Name              string
	SKU               string
	VariantLabel      string
	Quantity          int
	UnitPrice         decimal.Decimal
	TotalPrice        decimal.Decimal
	TaxAmount         decimal.Decimal
	DiscountAmount    decimal.Decimal
}

type Order struct {
	ID             int64
	Number         string
	UserID         int64
	Status         Status
	PaymentStatus  PaymentStatus
	Customer       Customer
	Billing        Address
	Shipping       Address
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	ShippingMethod string
	EstimatedDays  int
	TrackingNumber string
	Note           string
	Lines          []Line
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusEvent is one append-only history entry, including the initial
// creation event. Never mutated or deleted.
type StatusEvent struct {
	ID        int64
	OrderID   int64
	Status    Status
	Note      string
	Actor     string
	CreatedAt time.Time
}

// Draft carries everything the store needs to create an order atomically.
// Amounts are already frozen; the store persists them verbatim.
type Draft struct {
	UserID         int64
	CartID         int64
	Customer       Customer
	Billing        Address
	Shipping       Address
	ShippingMethod string
	EstimatedDays  int
	Note           string
	Lines          []Line
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

// CheckTotals verifies total == subtotal + tax + shipping - discount exactly.
func (d Draft) CheckTotals() error {
	want := d.Subtotal.Add(d.TaxAmount).Add(d.ShippingAmount).Sub(d.DiscountAmount)
	if !d.TotalAmount.Equal(want) {
		return fmt.Errorf("order total %s does not equal %s", d.TotalAmount, want)
	}
	return nil
}

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			panic(err)
		}
		b[i] = numberAlphabet[idx.Int64()]
	}
	return string(b)
}

// NewOrderNumber generates an ORD-YYYYMMDD-XXXXX candidate. Uniqueness is
// enforced by the store, which retries on collision.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), randomSuffix(5))
}

// NewTrackingNumber generates a TRK-YYYYMMDD-XXXXX number, assigned when an
// order ships.
func NewTrackingNumber(now time.Time) string {
	return fmt.Sprintf("TRK-%s-%s", now.Format("20060102"), randomSuffix(5))
}
