package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/tax/application"
	"github.com/cartaway/checkout/internal/tax/domain"
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
	r.Post("/tax/calculate", h.calculate)
}

type calculateReq struct {
	Address struct {
		Country    string `json:"country"`
		State      string `json:"state"`
		City       string `json:"city"`
		PostalCode string `json:"postal_code"`
	} `json:"address"`
	Subtotal decimal.Decimal `json:"subtotal"`
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

	res, err := h.engine.Calculate(r.Context(), domain.Address{
		Country:    req.Address.Country,
		State:      req.Address.State,
		City:       req.Address.City,
		PostalCode: req.Address.PostalCode,
	}, req.Subtotal)
	if err != nil {
		h.log.Error("tax calculation failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"rate":         res.Rate.String(),
		"tax_amount":   res.Amount.StringFixed(2),
		"total":        req.Subtotal.Add(res.Amount).StringFixed(2),
		"zone_id":      res.ZoneID,
		"used_default": res.UsedDefault,
	})
}
