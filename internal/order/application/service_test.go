package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdomain "github.com/cartaway/checkout/internal/cart/domain"
	invdomain "github.com/cartaway/checkout/internal/inventory/domain"
	"github.com/cartaway/checkout/internal/order/domain"
	shipdomain "github.com/cartaway/checkout/internal/shipping/domain"
	taxdomain "github.com/cartaway/checkout/internal/tax/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeCarts holds carts keyed by (cartID, userID). The store deactivates a
// cart when an order is created from it.
type fakeCarts struct {
	mu    sync.Mutex
	carts map[int64]*fakeCart
}

type fakeCart struct {
	userID int64
	active bool
	lines  []cartdomain.PricedLine
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: map[int64]*fakeCart{}}
}

func (f *fakeCarts) add(cartID, userID int64, lines ...cartdomain.PricedLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[cartID] = &fakeCart{userID: userID, active: true, lines: lines}
}

func (f *fakeCarts) ActiveCart(_ context.Context, cartID, userID int64) (cartdomain.Cart, []cartdomain.PricedLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok || !c.active || c.userID != userID {
		return cartdomain.Cart{}, nil, cartdomain.ErrCartNotFound
	}
	return cartdomain.Cart{ID: cartID, UserID: userID, Active: true}, c.lines, nil
}

func (f *fakeCarts) deactivate(cartID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[cartID]; ok {
		c.active = false
		c.lines = nil
	}
}

func (f *fakeCarts) isActive(cartID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	return ok && c.active
}

type fakeTax struct {
	zones []taxdomain.Zone
}

func (f *fakeTax) Calculate(_ context.Context, addr taxdomain.Address, subtotal decimal.Decimal) (taxdomain.Result, error) {
	return taxdomain.Calculate(f.zones, addr, subtotal, dec("0.0825")), nil
}

type fakeRates struct {
	zones []shipdomain.Zone
}

func (f *fakeRates) Candidates(_ context.Context, addr shipdomain.Address, subtotal decimal.Decimal, itemCount int, weight decimal.Decimal) ([]shipdomain.Candidate, error) {
	return shipdomain.Candidates(f.zones, addr, subtotal, itemCount, weight), nil
}

type stockRec struct {
	quantity int
	reserved int
}

// fakeStore mimics the transactional store: order creation validates every
// line before applying anything, so a failed attempt leaves no side effects.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]*domain.Order
	history map[int64][]domain.StatusEvent
	stock   map[int64]*stockRec
	carts   *fakeCarts
}

func newFakeStore(carts *fakeCarts) *fakeStore {
	return &fakeStore{
		orders:  map[int64]*domain.Order{},
		history: map[int64][]domain.StatusEvent{},
		stock:   map[int64]*stockRec{},
		carts:   carts,
	}
}

func (s *fakeStore) addStock(recordID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[recordID] = &stockRec{quantity: quantity}
}

func (s *fakeStore) stockAt(recordID int64) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.stock[recordID]
	return r.quantity, r.reserved
}

func (s *fakeStore) CreateOrder(_ context.Context, d domain.Draft) (domain.Order, error) {
	if err := d.CheckTotals(); err != nil {
		return domain.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range d.Lines {
		rec, ok := s.stock[l.InventoryRecordID]
		if l.InventoryRecordID == 0 || !ok {
			return domain.Order{}, &invdomain.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if rec.quantity-rec.reserved < l.Quantity {
			return domain.Order{}, &invdomain.InsufficientStockError{
				RecordID:  l.InventoryRecordID,
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: rec.quantity - rec.reserved,
			}
		}
	}
	for _, l := range d.Lines {
		s.stock[l.InventoryRecordID].reserved += l.Quantity
	}

	s.nextID++
	o := domain.Order{
		ID:             s.nextID,
		Number:         domain.NewOrderNumber(time.Now().UTC()),
		UserID:         d.UserID,
		Status:         domain.StatusPending,
		PaymentStatus:  domain.PaymentPending,
		Customer:       d.Customer,
		Billing:        d.Billing,
		Shipping:       d.Shipping,
		Subtotal:       d.Subtotal,
		TaxAmount:      d.TaxAmount,
		ShippingAmount: d.ShippingAmount,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		ShippingMethod: d.ShippingMethod,
		EstimatedDays:  d.EstimatedDays,
		Note:           d.Note,
		Lines:          append([]domain.Line(nil), d.Lines...),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	s.orders[o.ID] = &o
	s.history[o.ID] = []domain.StatusEvent{
		{OrderID: o.ID, Status: domain.StatusPending, Note: "order created from cart", Actor: "checkout", CreatedAt: o.CreatedAt},
	}
	s.carts.deactivate(d.CartID)

	out := o
	return out, nil
}

func (s *fakeStore) Transition(_ context.Context, orderID int64, next domain.Status, actor, note string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if !domain.CanTransition(o.Status, next) {
		return domain.Order{}, &domain.IllegalTransitionError{From: o.Status, To: next}
	}

	switch {
	case next == domain.StatusCancelled && domain.ReleasesStock(o.Status):
		for _, l := range o.Lines {
			s.stock[l.InventoryRecordID].reserved -= l.Quantity
		}
	case next == domain.StatusShipped:
		for _, l := range o.Lines {
			rec := s.stock[l.InventoryRecordID]
			rec.quantity -= l.Quantity
			rec.reserved -= l.Quantity
		}
		o.TrackingNumber = domain.NewTrackingNumber(time.Now().UTC())
	}

	prev := o.Status
	o.Status = next
	o.UpdatedAt = time.Now().UTC()
	if note == "" {
		note = fmt.Sprintf("status changed from %s to %s", prev, next)
	}
	s.history[orderID] = append(s.history[orderID], domain.StatusEvent{
		OrderID: orderID, Status: next, Note: note, Actor: actor, CreatedAt: o.UpdatedAt,
	})
	out := *o
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, orderID int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	out := *o
	return out, nil
}

func (s *fakeStore) History(_ context.Context, orderID int64) ([]domain.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StatusEvent(nil), s.history[orderID]...), nil
}

func (s *fakeStore) SetPaymentStatus(_ context.Context, orderID int64, status domain.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.PaymentStatus = status
	return nil
}

func usZones() []shipdomain.Zone {
	return []shipdomain.Zone{
		{
			ID: 1, Name: "Domestic", Countries: []string{"US"}, Active: true,
			Rates: []shipdomain.Rate{
				{ID: 10, ZoneID: 1, Method: "standard", BaseRate: dec("5.99"), EstimatedDays: 5, Active: true},
				{ID: 11, ZoneID: 1, Method: "express", BaseRate: dec("14.99"), EstimatedDays: 2, Active: true},
			},
		},
	}
}

func testAddress() domain.Address {
	return domain.Address{
		Line1:      "1 Main St",
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62701",
		Country:    "US",
	}
}

func newTestService(carts *fakeCarts, store *fakeStore, rates *fakeRates, tax *fakeTax) *Service {
	log := slog.New(slog.DiscardHandler)
	return NewService(log, carts, tax, rates, store, 5*time.Second)
}

func checkoutReq(userID, cartID int64) CheckoutRequest {
	return CheckoutRequest{
		UserID:         userID,
		CartID:         cartID,
		Customer:       domain.Customer{Email: "jo@example.com", FirstName: "Jo", LastName: "Doe"},
		Billing:        testAddress(),
		UseSameAddress: true,
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 2, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, domain.PaymentPending, order.PaymentStatus)
	assert.Regexp(t, `^ORD-\d{8}-[A-Z0-9]{5}$`, order.Number)
	assert.True(t, order.Subtotal.Equal(dec("20.00")))
	assert.True(t, order.TaxAmount.Equal(dec("1.65")), "got %s", order.TaxAmount)
	assert.True(t, order.ShippingAmount.Equal(dec("5.99")))
	assert.True(t, order.TotalAmount.Equal(dec("27.64")), "got %s", order.TotalAmount)
	assert.Equal(t, "standard", order.ShippingMethod)
	assert.Equal(t, 5, order.EstimatedDays)
	assert.Equal(t, order.Billing, order.Shipping)

	// inventory reserved, cart consumed
	qty, reserved := store.stockAt(11)
	assert.Equal(t, 5, qty)
	assert.Equal(t, 2, reserved)
	assert.False(t, carts.isActive(1))
}

func TestCheckoutValidation(t *testing.T) {
	svc := newTestService(newFakeCarts(), newFakeStore(newFakeCarts()), &fakeRates{}, &fakeTax{})

	req := checkoutReq(100, 1)
	req.Customer.Email = ""
	_, err := svc.Checkout(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "customer_email", verr.Field)

	req = checkoutReq(100, 1)
	req.Billing.PostalCode = ""
	_, err = svc.Checkout(context.Background(), req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "billing_postal_code", verr.Field)

	req = checkoutReq(100, 1)
	req.UseSameAddress = false
	_, err = svc.Checkout(context.Background(), req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "shipping_address_line1", verr.Field)
}

func TestCheckoutEmptyCart(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100)
	svc := newTestService(carts, newFakeStore(carts), &fakeRates{zones: usZones()}, &fakeTax{})

	_, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	assert.ErrorIs(t, err, cartdomain.ErrEmptyCart)
}

func TestCheckoutCartNotFound(t *testing.T) {
	carts := newFakeCarts()
	svc := newTestService(carts, newFakeStore(carts), &fakeRates{zones: usZones()}, &fakeTax{})

	_, err := svc.Checkout(context.Background(), checkoutReq(100, 99))
	assert.ErrorIs(t, err, cartdomain.ErrCartNotFound)
}

func TestCheckoutOversellLeavesNoTrace(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 3, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 2)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	_, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	var serr *invdomain.InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Requested)
	assert.Equal(t, 2, serr.Available)

	// nothing was applied: no reservation, cart still active
	_, reserved := store.stockAt(11)
	assert.Zero(t, reserved)
	assert.True(t, carts.isActive(1))
}

func TestCheckoutNoInventoryRecord(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 0,
	})
	store := newFakeStore(carts)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	_, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	var serr *invdomain.InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, int64(1), serr.ProductID, "the error must name the line missing a stock record")
	assert.Contains(t, err.Error(), "product 1")
}

func TestCheckoutShippingMethodFilter(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	req := checkoutReq(100, 1)
	req.ShippingMethod = "express"
	order, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "express", order.ShippingMethod)
	assert.True(t, order.ShippingAmount.Equal(dec("14.99")))
	assert.Equal(t, 2, order.EstimatedDays)
}

func TestCheckoutNoShippingZone(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{}, &fakeTax{})

	_, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	assert.ErrorIs(t, err, shipdomain.ErrNoZone)
	assert.True(t, carts.isActive(1))
}

func TestCheckoutUsesMatchedTaxZone(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 2, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	tax := &fakeTax{zones: []taxdomain.Zone{
		{ID: 1, Country: "US", State: "IL", Rate: dec("0.0625"), Active: true},
	}}
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, tax)

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)
	assert.True(t, order.TaxAmount.Equal(dec("1.25")), "got %s", order.TaxAmount)
	assert.True(t, order.TotalAmount.Equal(dec("27.24")))
}

func TestCancelReleasesReservation(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 2, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), order.ID, "customer", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	qty, reserved := store.stockAt(11)
	assert.Equal(t, 5, qty)
	assert.Zero(t, reserved)
}

func TestShipmentConsumesStockAndAssignsTracking(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 2, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)

	ctx := context.Background()
	for _, next := range []domain.Status{domain.StatusConfirmed, domain.StatusProcessing, domain.StatusShipped} {
		order, err = svc.Transition(ctx, order.ID, next, "ops", "")
		require.NoError(t, err)
	}
	assert.Regexp(t, `^TRK-\d{8}-[A-Z0-9]{5}$`, order.TrackingNumber)

	qty, reserved := store.stockAt(11)
	assert.Equal(t, 3, qty)
	assert.Zero(t, reserved)

	// shipped orders cannot be cancelled
	_, err = svc.Cancel(ctx, order.ID, "customer", "")
	var terr *domain.IllegalTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusShipped, terr.From)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	store := newFakeStore(newFakeCarts())
	svc := newTestService(newFakeCarts(), store, &fakeRates{}, &fakeTax{})

	_, err := svc.Transition(context.Background(), 1, domain.Status("beamed"), "ops", "")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestTrackingIsReadOnly(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)

	first, err := svc.Tracking(context.Background(), order.ID)
	require.NoError(t, err)
	second, err := svc.Tracking(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, len(first.History), len(second.History))
	assert.Equal(t, order.Number, second.OrderNumber)
}

func TestMarkPaymentStatus(t *testing.T) {
	carts := newFakeCarts()
	carts.add(1, 100, cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 11,
	})
	store := newFakeStore(carts)
	store.addStock(11, 5)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	order, err := svc.Checkout(context.Background(), checkoutReq(100, 1))
	require.NoError(t, err)

	require.NoError(t, svc.MarkPaymentStatus(context.Background(), order.ID, domain.PaymentPaid))
	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	// payment signals never move the fulfillment status
	assert.Equal(t, domain.StatusPending, got.Status)

	var verr *domain.ValidationError
	assert.ErrorAs(t, svc.MarkPaymentStatus(context.Background(), order.ID, "settled"), &verr)
}

// Two checkouts race for the last unit; exactly one may win.
func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	carts := newFakeCarts()
	line := cartdomain.PricedLine{
		ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 1, InventoryRecordID: 11,
	}
	carts.add(1, 100, line)
	carts.add(2, 200, line)
	store := newFakeStore(carts)
	store.addStock(11, 1)
	svc := newTestService(carts, store, &fakeRates{zones: usZones()}, &fakeTax{})

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, ids := range [][2]int64{{100, 1}, {200, 2}} {
		wg.Add(1)
		go func(userID, cartID int64) {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), checkoutReq(userID, cartID))
			results <- err
		}(ids[0], ids[1])
	}
	wg.Wait()
	close(results)

	var wins, stockouts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			var serr *invdomain.InsufficientStockError
			require.True(t, errors.As(err, &serr), "unexpected error: %v", err)
			stockouts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, stockouts)

	qty, reserved := store.stockAt(11)
	assert.Equal(t, 1, qty)
	assert.Equal(t, 1, reserved)
}
