package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cartdomain "github.com/cartaway/checkout/internal/cart/domain"
	invdomain "github.com/cartaway/checkout/internal/inventory/domain"
	"github.com/cartaway/checkout/internal/order/application"
	"github.com/cartaway/checkout/internal/order/domain"
	shipdomain "github.com/cartaway/checkout/internal/shipping/domain"
	"github.com/cartaway/checkout/pkg/httpx"
)

// Idempotency guards checkout against duplicate submission. Satisfied by the
// redis-backed idempotency store.
type Idempotency interface {
	RequestKey(operation, key string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	service *application.Service
	idem    Idempotency
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, idem Idempotency) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/tracking", h.tracking)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/transition", h.transitionOrder)
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type checkoutReq struct {
	UserID   int64 `json:"user_id"`
	CartID   int64 `json:"cart_id"`
	Customer struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	BillingAddress  addressPayload `json:"billing_address"`
	ShippingAddress addressPayload `json:"shipping_address"`
	UseSameAddress  bool           `json:"use_same_address"`
	ShippingMethod  string         `json:"shipping_method"`
	Note            string         `json:"note"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()

	var idemKey string
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idem != nil {
		idemKey = h.idem.RequestKey("checkout", key)
		seen, err := h.idem.Seen(ctx, idemKey)
		if err != nil {
			h.log.Error("idempotency check failed", "err", err)
			idemKey = ""
		} else if seen {
			httpx.Error(w, http.StatusConflict, "duplicate_request", "checkout with this Idempotency-Key was already submitted")
			return
		}
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.releaseIdempotencyKey(ctx, idemKey)
		httpx.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	order, err := h.service.Checkout(ctx, application.CheckoutRequest{
		UserID: req.UserID,
		CartID: req.CartID,
		Customer: domain.Customer{
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
		},
		Billing:        req.BillingAddress.toDomain(),
		Shipping:       req.ShippingAddress.toDomain(),
		UseSameAddress: req.UseSameAddress,
		ShippingMethod: req.ShippingMethod,
		Note:           req.Note,
	})
	if err != nil {
		// a failed checkout leaves no order; the key must not block the retry
		h.releaseIdempotencyKey(ctx, idemKey)
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order))
}

// releaseIdempotencyKey frees a claimed Idempotency-Key after an attempt that
// created nothing.
func (h *Handler) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || h.idem == nil {
		return
	}
	if err := h.idem.Forget(ctx, key); err != nil {
		h.log.Error("idempotency key release failed", "err", err)
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) tracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "OrderTracking")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := h.service.Tracking(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	history := make([]statusEventResponse, 0, len(info.History))
	for _, e := range info.History {
		history = append(history, toStatusEventResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"order_number":    info.OrderNumber,
		"status":          info.Status,
		"tracking_number": info.TrackingNumber,
		"estimated_days":  info.EstimatedDays,
		"status_history":  history,
	})
}

type transitionReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
	Actor  string `json:"actor"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	order, err := h.service.Cancel(ctx, id, actorOr(req.Actor), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TransitionOrder")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	order, err := h.service.Transition(ctx, id, domain.Status(req.Status), actorOr(req.Actor), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func actorOr(actor string) string {
	if actor == "" {
		return "api"
	}
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return id, true
}

// writeError converts the pipeline's error taxonomy to structured responses.
// Nothing exceptional escapes the orchestrating operations.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var terr *domain.IllegalTransitionError
	var serr *invdomain.InsufficientStockError

	switch {
	case errors.As(err, &verr):
		httpx.Error(w, http.StatusBadRequest, "validation_error", map[string]string{verr.Field: verr.Reason})
	case errors.Is(err, cartdomain.ErrEmptyCart):
		httpx.Error(w, http.StatusBadRequest, "empty_cart", nil)
	case errors.Is(err, cartdomain.ErrCartNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, invdomain.ErrRecordNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &serr):
		httpx.Error(w, http.StatusConflict, "insufficient_stock", map[string]any{
			"product_id": serr.ProductID,
			"requested":  serr.Requested,
			"available":  serr.Available,
		})
	case errors.As(err, &terr):
		httpx.Error(w, http.StatusConflict, "illegal_transition", map[string]string{
			"from": string(terr.From),
			"to":   string(terr.To),
		})
	case errors.Is(err, domain.ErrConflict):
		httpx.RetryableError(w, http.StatusConflict, "conflict")
	case errors.Is(err, shipdomain.ErrNoZone):
		httpx.Error(w, http.StatusUnprocessableEntity, "no_shipping_zone", nil)
	default:
		h.log.Error("order request failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
