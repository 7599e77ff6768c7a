package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cartaway/checkout/internal/inventory/application"
	"github.com/cartaway/checkout/internal/inventory/domain"
	"github.com/cartaway/checkout/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service, tracer: otel.Tracer("inventory-http")}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/inventory/{id}", h.getRecord)
	r.Get("/inventory/{id}/transactions", h.transactions)
	r.Post("/inventory/{id}/restock", h.restock)
	r.Post("/inventory/{id}/adjust", h.adjust)
	r.Put("/warehouses/{id}/primary", h.setPrimary)
}

type recordResponse struct {
	ID                int64      `json:"id"`
	ProductID         int64      `json:"product_id"`
	VariantID         *int64     `json:"variant_id,omitempty"`
	WarehouseID       int64      `json:"warehouse_id"`
	Quantity          int        `json:"quantity"`
	Reserved          int        `json:"reserved"`
	Available         int        `json:"available"`
	LowStockThreshold int        `json:"low_stock_threshold"`
	LowStock          bool       `json:"low_stock"`
	LastRestockAt     *time.Time `json:"last_restock_at,omitempty"`
	LastRestockQty    int        `json:"last_restock_qty,omitempty"`
}

type transactionResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Quantity  int       `json:"quantity"`
	Delta     int       `json:"delta"`
	Reference string    `json:"reference,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toRecordResponse(rec domain.Record) recordResponse {
	return recordResponse{
		ID:                rec.ID,
		ProductID:         rec.ProductID,
		VariantID:         rec.VariantID,
		WarehouseID:       rec.WarehouseID,
		Quantity:          rec.Quantity,
		Reserved:          rec.Reserved,
		Available:         rec.Available(),
		LowStockThreshold: rec.LowStockThreshold,
		LowStock:          rec.LowStock(),
		LastRestockAt:     rec.LastRestockAt,
		LastRestockQty:    rec.LastRestockQty,
	}
}

func toTransactionResponse(txn domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:        txn.ID,
		Type:      string(txn.Type),
		Quantity:  txn.Quantity,
		Delta:     txn.Delta,
		Reference: txn.Reference,
		Actor:     txn.Actor,
		CreatedAt: txn.CreatedAt,
	}
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetInventoryRecord")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Record(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InventoryTransactions")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	txns, err := h.service.Transactions(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type stockChangeReq struct {
	Quantity  int    `json:"quantity"`
	Delta     int    `json:"delta"`
	Reference string `json:"reference"`
	Actor     string `json:"actor"`
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Restock")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req stockChangeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	rec, txn, err := h.service.Restock(ctx, id, req.Quantity, req.Reference, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":      toRecordResponse(rec),
		"transaction": toTransactionResponse(txn),
	})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustStock")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req stockChangeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	rec, txn, err := h.service.Adjust(ctx, id, req.Delta, req.Reference, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":      toRecordResponse(rec),
		"transaction": toTransactionResponse(txn),
	})
}

func (h *Handler) setPrimary(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetPrimaryWarehouse")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.SetPrimaryWarehouse(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		httpx.Error(w, http.StatusBadRequest, "invalid_quantity", nil)
	case errors.Is(err, domain.ErrAdjustmentUnderflow):
		httpx.Error(w, http.StatusConflict, "adjustment_underflow", err.Error())
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrWarehouseNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.log.Error("inventory request failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
