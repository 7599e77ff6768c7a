package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/shipping/application"
	"github.com/cartaway/checkout/internal/shipping/domain"
	"github.com/cartaway/checkout/pkg/httpx"
)

type Handler struct {
	log    *slog.Logger
	engine *application.Engine
}

func NewHandler(log *slog.Logger, engine *application.Engine) *Handler {
	return &Handler{log: log, engine: engine}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/shipping/calculate", h.calculate)
}

type calculateReq struct {
	Address struct {
		Country    string `json:"country"`
		State      string `json:"state"`
		PostalCode string `json:"postal_code"`
	} `json:"address"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
	Weight    decimal.Decimal `json:"weight"`
}

type candidateResponse struct {
	ZoneID        int64  `json:"zone_id"`
	ZoneName      string `json:"zone_name"`
	Method        string `json:"method"`
	Amount        string `json:"amount"`
	EstimatedDays int    `json:"estimated_days"`
	Free          bool   `json:"free"`
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Address.Country == "" {
		httpx.Error(w, http.StatusBadRequest, "validation_error", map[string]string{"country": "required"})
		return
	}

	cands, err := h.engine.Candidates(r.Context(), domain.Address{
		Country:    req.Address.Country,
		State:      req.Address.State,
		PostalCode: req.Address.PostalCode,
	}, req.Subtotal, req.ItemCount, req.Weight)
	if err != nil {
		h.log.Error("shipping calculation failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	if len(cands) == 0 {
		httpx.Error(w, http.StatusUnprocessableEntity, "no_shipping_zone", nil)
		return
	}

	out := make([]candidateResponse, 0, len(cands))
	for _, c := range cands {
		out = append(out, candidateResponse{
			ZoneID:        c.ZoneID,
			ZoneName:      c.ZoneName,
			Method:        c.Method,
			Amount:        c.Amount.StringFixed(2),
			EstimatedDays: c.EstimatedDays,
			Free:          c.FreeShipping,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"candidates": out})
}
