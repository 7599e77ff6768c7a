package application

import (
	"context"
	"log/slog"
	"time"

	cartdomain "github.com/cartaway/checkout/internal/cart/domain"
	"github.com/cartaway/checkout/internal/order/domain"
	shipdomain "github.com/cartaway/checkout/internal/shipping/domain"
	taxdomain "github.com/cartaway/checkout/internal/tax/domain"
)

// Service drives the checkout-to-fulfillment pipeline: it freezes the cart
// into a priced snapshot, computes tax and shipping, and hands the store one
// atomic order draft. Afterwards it owns every status transition.
type Service struct {
	log             *slog.Logger
	carts           CartRepository
	tax             TaxCalculator
	rates           RateCalculator
	store           FulfillmentStore
	checkoutTimeout time.Duration
}

func NewService(log *slog.Logger, carts CartRepository, tax TaxCalculator, rates RateCalculator, store FulfillmentStore, checkoutTimeout time.Duration) *Service {
	return &Service{
		log:             log,
		carts:           carts,
		tax:             tax,
		rates:           rates,
		store:           store,
		checkoutTimeout: checkoutTimeout,
	}
}

type CheckoutRequest struct {
	UserID         int64
	CartID         int64
	Customer       domain.Customer
	Billing        domain.Address
	Shipping       domain.Address
	UseSameAddress bool
	ShippingMethod string
	Note           string
}

// Checkout converts a mutable cart into an immutable, price-frozen order with
// reserved inventory. The whole operation runs under a bounded deadline; if
// it cannot complete in time it is aborted and reported as retryable, never
// left half-applied.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (domain.Order, error) {
	if req.Customer.Email == "" {
		return domain.Order{}, &domain.ValidationError{Field: "customer_email", Reason: "required"}
	}
	if err := req.Billing.Validate("billing"); err != nil {
		return domain.Order{}, err
	}
	if req.UseSameAddress {
		req.Shipping = req.Billing
	} else if err := req.Shipping.Validate("shipping"); err != nil {
		return domain.Order{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.checkoutTimeout)
	defer cancel()

	cart, lines, err := s.carts.ActiveCart(ctx, req.CartID, req.UserID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := cartdomain.BuildSnapshot(cart.ID, lines)
	if err != nil {
		return domain.Order{}, err
	}

	taxRes, err := s.tax.Calculate(ctx, taxdomain.Address{
		Country:    req.Shipping.Country,
		State:      req.Shipping.State,
		City:       req.Shipping.City,
		PostalCode: req.Shipping.PostalCode,
	}, snap.Subtotal)
	if err != nil {
		return domain.Order{}, err
	}

	cands, err := s.rates.Candidates(ctx, shipdomain.Address{
		Country:    req.Shipping.Country,
		State:      req.Shipping.State,
		PostalCode: req.Shipping.PostalCode,
	}, snap.Subtotal, snap.ItemCount, snap.TotalWeight)
	if err != nil {
		return domain.Order{}, err
	}
	rate, err := shipdomain.Select(cands, req.ShippingMethod)
	if err != nil {
		return domain.Order{}, err
	}

	draft := domain.Draft{
		UserID:         req.UserID,
		CartID:         cart.ID,
		Customer:       req.Customer,
		Billing:        req.Billing,
		Shipping:       req.Shipping,
		ShippingMethod: rate.Method,
		EstimatedDays:  rate.EstimatedDays,
		Note:           req.Note,
		Lines:          draftLines(snap),
		Subtotal:       snap.Subtotal,
		TaxAmount:      taxRes.Amount,
		ShippingAmount: rate.Amount,
		DiscountAmount: snap.TotalDiscount,
	}
	draft.TotalAmount = draft.Subtotal.Add(draft.TaxAmount).Add(draft.ShippingAmount).Sub(draft.DiscountAmount)

	order, err := s.store.CreateOrder(ctx, draft)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created",
		"order_number", order.Number,
		"user_id", order.UserID,
		"total", order.TotalAmount.String(),
		"lines", len(order.Lines))
	return order, nil
}

func draftLines(snap cartdomain.Snapshot) []domain.Line {
	lines := make([]domain.Line, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, domain.Line{
			ProductID:         l.ProductID,
			VariantID:         l.VariantID,
			InventoryRecordID: l.InventoryRecordID,
			Name:              l.Name,
			SKU:               l.SKU,
			VariantLabel:      l.VariantLabel,
			Quantity:          l.Quantity,
			UnitPrice:         l.UnitPrice,
			TotalPrice:        l.LineTotal,
			DiscountAmount:    l.Discount,
		})
	}
	return lines
}

// Transition moves an order to a new status, rejecting anything outside the
// legal-transition table. Side effects (releasing or consuming reservations)
// happen inside the store transaction.
func (s *Service) Transition(ctx context.Context, orderID int64, next domain.Status, actor, note string) (domain.Order, error) {
	if !domain.ValidStatus(next) {
		return domain.Order{}, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(next)}
	}
	order, err := s.store.Transition(ctx, orderID, next, actor, note)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order transitioned", "order_number", order.Number, "status", order.Status)
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, orderID int64, actor, note string) (domain.Order, error) {
	return s.Transition(ctx, orderID, domain.StatusCancelled, actor, note)
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.store.Get(ctx, orderID)
}

type TrackingInfo struct {
	OrderNumber    string
	Status         domain.Status
	TrackingNumber string
	EstimatedDays  int
	History        []domain.StatusEvent
}

// Tracking is read-only: calling it never mutates state or history length.
func (s *Service) Tracking(ctx context.Context, orderID int64) (TrackingInfo, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return TrackingInfo{}, err
	}
	events, err := s.store.History(ctx, orderID)
	if err != nil {
		return TrackingInfo{}, err
	}
	return TrackingInfo{
		OrderNumber:    order.Number,
		Status:         order.Status,
		TrackingNumber: order.TrackingNumber,
		EstimatedDays:  order.EstimatedDays,
		History:        events,
	}, nil
}

// MarkPaymentStatus records an opaque external payment signal. It never
// drives the fulfillment status machine.
func (s *Service) MarkPaymentStatus(ctx context.Context, orderID int64, status domain.PaymentStatus) error {
	if !domain.ValidPaymentStatus(status) {
		return &domain.ValidationError{Field: "payment_status", Reason: "unknown payment status " + string(status)}
	}
	if err := s.store.SetPaymentStatus(ctx, orderID, status); err != nil {
		return err
	}
	s.log.Info("payment status updated", "order_id", orderID, "payment_status", status)
	return nil
}
