package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartaway/checkout/internal/tax/domain"
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
		SELECT id, country, COALESCE(state, ''), COALESCE(city, ''), rate, is_active
		FROM tax_zones
		WHERE is_active
		ORDER BY country, state, city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.Country, &z.State, &z.City, &z.Rate, &z.Active); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
