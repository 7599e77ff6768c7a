//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invdomain "github.com/cartaway/checkout/internal/inventory/domain"
	invpg "github.com/cartaway/checkout/internal/inventory/infrastructure/postgres"
)

// Ten transactions race for three units; the row lock must let exactly three
// commit and the rest fail with insufficient stock.
func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	defer env.Teardown(ctx)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	defer pool.Close()

	var productID, warehouseID, recordID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO products (name, sku, price) VALUES ('Mug', 'MUG-1', 10.00) RETURNING id`).
		Scan(&productID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO warehouses (name, code, is_primary) VALUES ('Main', 'MAIN', TRUE) RETURNING id`).
		Scan(&warehouseID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO inventory_records (product_id, warehouse_id, quantity) VALUES ($1, $2, 3) RETURNING id`,
		productID, warehouseID).Scan(&recordID))

	ledger := invpg.NewLedger(slog.New(slog.DiscardHandler))

	const workers = 10
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
			if err != nil {
				errs <- err
				return
			}
			defer tx.Rollback(ctx)
			if _, _, err := ledger.Reserve(ctx, tx, recordID, 1, fmt.Sprintf("ORD-%d", n), "test"); err != nil {
				errs <- err
				return
			}
			errs <- tx.Commit(ctx)
		}(i)
	}
	wg.Wait()
	close(errs)

	var committed, stockouts int
	for err := range errs {
		if err == nil {
			committed++
			continue
		}
		var serr *invdomain.InsufficientStockError
		require.ErrorAs(t, err, &serr, "unexpected error: %v", err)
		stockouts++
	}
	assert.Equal(t, 3, committed)
	assert.Equal(t, workers-3, stockouts)

	var qty, reserved int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT quantity, reserved_quantity FROM inventory_records WHERE id = $1`, recordID).
		Scan(&qty, &reserved))
	assert.Equal(t, 3, qty)
	assert.Equal(t, 3, reserved)

	var entries int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM inventory_transactions WHERE record_id = $1`, recordID).Scan(&entries))
	assert.Equal(t, 3, entries, "failed reservations must not leave ledger entries")
}
