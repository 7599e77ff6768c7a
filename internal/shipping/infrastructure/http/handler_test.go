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

	"github.com/cartaway/checkout/internal/shipping/application"
	"github.com/cartaway/checkout/internal/shipping/domain"
)

type fakeRepo struct {
	zones []domain.Zone
}

func (f *fakeRepo) ActiveZones(context.Context) ([]domain.Zone, error) {
	return f.zones, nil
}

func newTestRouter(zones []domain.Zone) *chi.Mux {
	log := slog.New(slog.DiscardHandler)
	engine := application.NewEngine(log, &fakeRepo{zones: zones})
	r := chi.NewRouter()
	NewHandler(log, engine).Register(r)
	return r
}

func TestCalculateReturnsCandidates(t *testing.T) {
	threshold := decimal.RequireFromString("50.00")
	r := newTestRouter([]domain.Zone{
		{
			ID: 1, Name: "Domestic", Countries: []string{"US"}, Active: true,
			Rates: []domain.Rate{
				{ID: 10, ZoneID: 1, Method: "standard", BaseRate: decimal.RequireFromString("5.99"),
					FreeThreshold: &threshold, EstimatedDays: 5, Active: true},
				{ID: 11, ZoneID: 1, Method: "express", BaseRate: decimal.RequireFromString("14.99"),
					EstimatedDays: 2, Active: true},
			},
		},
	})

	req := httptest.NewRequest("POST", "/shipping/calculate", strings.NewReader(
		`{"address":{"country":"US","state":"IL","postal_code":"62701"},"subtotal":"60.00","item_count":2,"weight":"0.6"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body struct {
		Candidates []struct {
			Method string `json:"method"`
			Amount string `json:"amount"`
			Free   bool   `json:"free"`
		} `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Candidates, 2)
	// standard ships free above its threshold
	assert.Equal(t, "standard", body.Candidates[0].Method)
	assert.Equal(t, "0.00", body.Candidates[0].Amount)
	assert.True(t, body.Candidates[0].Free)
	assert.Equal(t, "14.99", body.Candidates[1].Amount)
}

func TestCalculateNoZone(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest("POST", "/shipping/calculate", strings.NewReader(
		`{"address":{"country":"AQ"},"subtotal":"10.00","item_count":1,"weight":"0"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 422, w.Code)
}

func TestCalculateRequiresCountry(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest("POST", "/shipping/calculate", strings.NewReader(
		`{"address":{},"subtotal":"10.00"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}
