package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/shipping/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ActiveZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, countries, states, postal_prefixes, is_active
		FROM shipping_zones
		WHERE is_active
		ORDER BY name`)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]int)
	var zones []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Countries, &z.States, &z.PostalPrefixes, &z.Active); err != nil {
			rows.Close()
			return nil, err
		}
		byID[z.ID] = len(zones)
		zones = append(zones, z)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, nil
	}

	rateRows, err := r.pool.Query(ctx, `
		SELECT id, zone_id, method_name, base_rate, per_item_rate, per_weight_rate,
			free_shipping_threshold, estimated_days, is_active
		FROM shipping_rates
		WHERE is_active
		ORDER BY zone_id, base_rate`)
	if err != nil {
		return nil, err
	}
	defer rateRows.Close()

	for rateRows.Next() {
		var rate domain.Rate
		var threshold *decimal.Decimal
		if err := rateRows.Scan(&rate.ID, &rate.ZoneID, &rate.Method, &rate.BaseRate,
			&rate.PerItemRate, &rate.PerWeightRate, &threshold, &rate.EstimatedDays, &rate.Active); err != nil {
			return nil, err
		}
		rate.FreeThreshold = threshold
		if i, ok := byID[rate.ZoneID]; ok {
			zones[i].Rates = append(zones[i].Rates, rate)
		}
	}
	return zones, rateRows.Err()
}
