package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdomain "github.com/cartaway/checkout/internal/cart/domain"
	invdomain "github.com/cartaway/checkout/internal/inventory/domain"
	"github.com/cartaway/checkout/internal/order/application"
	"github.com/cartaway/checkout/internal/order/domain"
	shipdomain "github.com/cartaway/checkout/internal/shipping/domain"
	taxdomain "github.com/cartaway/checkout/internal/tax/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubCarts struct{}

func (stubCarts) ActiveCart(_ context.Context, cartID, userID int64) (cartdomain.Cart, []cartdomain.PricedLine, error) {
	return cartdomain.Cart{ID: cartID, UserID: userID, Active: true}, []cartdomain.PricedLine{
		{ProductID: 1, Name: "Mug", BasePrice: dec("10.00"), Quantity: 2, InventoryRecordID: 11},
	}, nil
}

type stubTax struct{}

func (stubTax) Calculate(_ context.Context, addr taxdomain.Address, subtotal decimal.Decimal) (taxdomain.Result, error) {
	return taxdomain.Calculate(nil, addr, subtotal, dec("0.0825")), nil
}

type stubRates struct{}

func (stubRates) Candidates(_ context.Context, _ shipdomain.Address, _ decimal.Decimal, _ int, _ decimal.Decimal) ([]shipdomain.Candidate, error) {
	return []shipdomain.Candidate{
		{RateID: 10, ZoneID: 1, ZoneName: "Domestic", Method: "standard", Amount: dec("5.99"), EstimatedDays: 5},
	}, nil
}

// stubStore fails the first len(failures) CreateOrder calls, then succeeds.
type stubStore struct {
	mu       sync.Mutex
	failures []error
	created  int
}

func (s *stubStore) CreateOrder(_ context.Context, d domain.Draft) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return domain.Order{}, err
	}
	s.created++
	now := time.Now().UTC()
	return domain.Order{
		ID:             int64(s.created),
		Number:         domain.NewOrderNumber(now),
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
		Lines:          append([]domain.Line(nil), d.Lines...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *stubStore) createdOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *stubStore) Transition(_ context.Context, _ int64, _ domain.Status, _, _ string) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *stubStore) Get(_ context.Context, _ int64) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *stubStore) History(_ context.Context, _ int64) ([]domain.StatusEvent, error) {
	return nil, nil
}

func (s *stubStore) SetPaymentStatus(_ context.Context, _ int64, _ domain.PaymentStatus) error {
	return nil
}

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{keys: map[string]bool{}}
}

func (f *fakeIdem) RequestKey(operation, key string) string {
	return "idem:req:" + operation + ":" + key
}

func (f *fakeIdem) Seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return true, nil
	}
	f.keys[key] = true
	return false, nil
}

func (f *fakeIdem) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func newCheckoutRouter(store *stubStore, idem Idempotency) chi.Router {
	log := slog.New(slog.DiscardHandler)
	svc := application.NewService(log, stubCarts{}, stubTax{}, stubRates{}, store, 5*time.Second)
	r := chi.NewRouter()
	NewHandler(log, svc, idem).Register(r)
	return r
}

func checkoutBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"user_id": 100,
		"cart_id": 1,
		"customer": map[string]string{
			"email": "jo@example.com", "first_name": "Jo", "last_name": "Doe",
		},
		"billing_address": map[string]string{
			"line1": "1 Main St", "city": "Springfield", "state": "IL",
			"postal_code": "62701", "country": "US",
		},
		"use_same_address": true,
	})
	require.NoError(t, err)
	return b
}

func postCheckout(t *testing.T, r chi.Router, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(checkoutBody(t)))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutDuplicateIdempotencyKey(t *testing.T) {
	store := &stubStore{}
	r := newCheckoutRouter(store, newFakeIdem())

	first := postCheckout(t, r, "abc-123")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := postCheckout(t, r, "abc-123")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate_request")
	assert.Equal(t, 1, store.createdOrders())
}

// A failed checkout creates nothing, so its Idempotency-Key must stay usable
// for the resubmission.
func TestCheckoutFailureDoesNotConsumeIdempotencyKey(t *testing.T) {
	store := &stubStore{failures: []error{
		&invdomain.InsufficientStockError{RecordID: 11, ProductID: 1, Requested: 2, Available: 1},
	}}
	r := newCheckoutRouter(store, newFakeIdem())

	first := postCheckout(t, r, "abc-123")
	require.Equal(t, http.StatusConflict, first.Code)
	assert.Contains(t, first.Body.String(), "insufficient_stock")

	second := postCheckout(t, r, "abc-123")
	assert.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, 1, store.createdOrders())
}

func TestCheckoutRetryableConflictReleasesIdempotencyKey(t *testing.T) {
	store := &stubStore{failures: []error{domain.ErrConflict}}
	r := newCheckoutRouter(store, newFakeIdem())

	first := postCheckout(t, r, "abc-123")
	require.Equal(t, http.StatusConflict, first.Code)
	assert.Contains(t, first.Body.String(), `"retryable":true`)

	second := postCheckout(t, r, "abc-123")
	assert.Equal(t, http.StatusCreated, second.Code, second.Body.String())
}

func TestCheckoutWithoutIdempotencyStore(t *testing.T) {
	store := &stubStore{}
	r := newCheckoutRouter(store, nil)

	rec := postCheckout(t, r, "abc-123")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
