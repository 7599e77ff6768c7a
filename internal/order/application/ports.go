package application

import (
	"context"

	"github.com/shopspring/decimal"

	cartdomain "github.com/cartaway/checkout/internal/cart/domain"
	"github.com/cartaway/checkout/internal/order/domain"
	shipdomain "github.com/cartaway/checkout/internal/shipping/domain"
	taxdomain "github.com/cartaway/checkout/internal/tax/domain"
)

type CartRepository interface {
	// ActiveCart returns the user's active cart with lines priced from the
	// current catalog.
	ActiveCart(ctx context.Context, cartID, userID int64) (cartdomain.Cart, []cartdomain.PricedLine, error)
}

type TaxCalculator interface {
	Calculate(ctx context.Context, addr taxdomain.Address, subtotal decimal.Decimal) (taxdomain.Result, error)
}

type RateCalculator interface {
	Candidates(ctx context.Context, addr shipdomain.Address, subtotal decimal.Decimal, itemCount int, weight decimal.Decimal) ([]shipdomain.Candidate, error)
}

// FulfillmentStore persists orders. CreateOrder and Transition are single
// transactions: on any failure every side effect performed so far within the
// attempt is rolled back.
type FulfillmentStore interface {
	CreateOrder(ctx context.Context, draft domain.Draft) (domain.Order, error)
	Transition(ctx context.Context, orderID int64, next domain.Status, actor, note string) (domain.Order, error)
	Get(ctx context.Context, orderID int64) (domain.Order, error)
	History(ctx context.Context, orderID int64) ([]domain.StatusEvent, error)
	SetPaymentStatus(ctx context.Context, orderID int64, status domain.PaymentStatus) error
}
