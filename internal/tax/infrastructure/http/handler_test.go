package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartaway/checkout/internal/tax/application"
	"github.com/cartaway/checkout/internal/tax/domain"
)

type fakeRepo struct {
	zones []domain.Zone
}

func (f *fakeRepo) ActiveZones(context.Context) ([]domain.Zone, error) {
	return f.zones, nil
}

func newTestRouter(zones []domain.Zone) *chi.Mux {
	log := slog.New(slog.DiscardHandler)
	engine := application.NewEngine(log, &fakeRepo{zones: zones}, decimal.RequireFromString("0.0825"))
	r := chi.NewRouter()
	NewHandler(log, engine).Register(r)
	return r
}

func TestCalculateMatchedZone(t *testing.T) {
	r := newTestRouter([]domain.Zone{
		{ID: 1, Country: "US", State: "IL", Rate: decimal.RequireFromString("0.0625"), Active: true},
	})

	req := httptest.NewRequest("POST", "/tax/calculate", strings.NewReader(
		`{"address":{"country":"US","state":"IL"},"subtotal":"20.00"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1.25", body["tax_amount"])
	assert.Equal(t, "21.25", body["total"])
	assert.Equal(t, false, body["used_default"])
}

func TestCalculateDefaultFallback(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest("POST", "/tax/calculate", strings.NewReader(
		`{"address":{"country":"FR"},"subtotal":"100.00"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "8.25", body["tax_amount"])
	assert.Equal(t, true, body["used_default"])
}

func TestCalculateRequiresCountry(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest("POST", "/tax/calculate", strings.NewReader(
		`{"address":{},"subtotal":"10.00"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}
