package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartaway/checkout/internal/cart/domain"
)

// Repository reads carts with lines priced from the current catalog. The
// catalog tables are owned by an external collaborator; only the read is
// ours. Each line is resolved to the stock record at the primary warehouse.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ActiveCart(ctx context.Context, cartID, userID int64) (domain.Cart, []domain.PricedLine, error) {
	var c domain.Cart
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, is_active FROM carts WHERE id = $1 AND user_id = $2 AND is_active`,
		cartID, userID).Scan(&c.ID, &c.UserID, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cart{}, nil, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT cl.product_id, cl.variant_id, cl.quantity,
			p.name, COALESCE(p.sku, ''),
			CASE WHEN pv.id IS NULL THEN '' ELSE pv.name || ': ' || pv.value END,
			p.price, COALESCE(pv.price_adjustment, 0), COALESCE(p.compare_price, 0), COALESCE(p.weight, 0),
			COALESCE(ir.id, 0)
		FROM cart_lines cl
		JOIN products p ON p.id = cl.product_id
		LEFT JOIN product_variants pv ON pv.id = cl.variant_id
		LEFT JOIN inventory_records ir
			ON ir.product_id = cl.product_id
			AND ir.variant_id IS NOT DISTINCT FROM cl.variant_id
			AND ir.warehouse_id = (SELECT id FROM warehouses WHERE is_primary AND is_active LIMIT 1)
		WHERE cl.cart_id = $1
		ORDER BY cl.id`, cartID)
	if err != nil {
		return domain.Cart{}, nil, err
	}
	defer rows.Close()

	var lines []domain.PricedLine
	for rows.Next() {
		var l domain.PricedLine
		if err := rows.Scan(&l.ProductID, &l.VariantID, &l.Quantity,
			&l.Name, &l.SKU, &l.VariantLabel,
			&l.BasePrice, &l.VariantAdjustment, &l.ComparePrice, &l.Weight,
			&l.InventoryRecordID); err != nil {
			return domain.Cart{}, nil, err
		}
		lines = append(lines, l)
	}
	return c, lines, rows.Err()
}
