package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	invdomain "github.com/cartaway/checkout/internal/inventory/domain"
	invpg "github.com/cartaway/checkout/internal/inventory/infrastructure/postgres"
	"github.com/cartaway/checkout/internal/notification"
	"github.com/cartaway/checkout/internal/order/domain"
	"github.com/cartaway/checkout/pkg/tracing"
)

const orderNumberAttempts = 5

// Repository persists orders. Creation and transition each run as a single
// transaction; inventory is touched only through tx-scoped ledger operations.
type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	ledger *invpg.Ledger
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, ledger *invpg.Ledger) *Repository {
	return &Repository{log: log, pool: pool, ledger: ledger}
}

// classify maps lock contention, serialization failures and deadline expiry
// to the retryable conflict error. Everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}

func (r *Repository) CreateOrder(ctx context.Context, d domain.Draft) (domain.Order, error) {
	if err := d.CheckTotals(); err != nil {
		return domain.Order{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, classify(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	order, err := r.insertOrder(ctx, tx, d)
	if err != nil {
		return domain.Order{}, classify(err)
	}

	for i := range d.Lines {
		l := d.Lines[i]
		l.OrderID = order.ID
		if l.InventoryRecordID == 0 {
			// no stock record at the primary warehouse means nothing to sell
			return domain.Order{}, &invdomain.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if _, _, err := r.ledger.Reserve(ctx, tx, l.InventoryRecordID, l.Quantity, order.Number, "checkout"); err != nil {
			return domain.Order{}, classify(err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO order_lines (order_id, product_id, variant_id, inventory_record_id,
				product_name, product_sku, variant_label, quantity, unit_price, total_price,
				tax_amount, discount_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING id`,
			l.OrderID, l.ProductID, l.VariantID, l.InventoryRecordID,
			l.Name, l.SKU, l.VariantLabel, l.Quantity, l.UnitPrice, l.TotalPrice,
			l.TaxAmount, l.DiscountAmount).Scan(&l.ID)
		if err != nil {
			return domain.Order{}, classify(err)
		}
		order.Lines = append(order.Lines, l)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_events (order_id, status, note, actor)
		VALUES ($1, $2, $3, $4)`,
		order.ID, domain.StatusPending, "order created from cart", "checkout")
	if err != nil {
		return domain.Order{}, classify(err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, d.CartID); err != nil {
		return domain.Order{}, classify(err)
	}
	if _, err = tx.Exec(ctx, `UPDATE carts SET is_active = false, updated_at = now() WHERE id = $1`, d.CartID); err != nil {
		return domain.Order{}, classify(err)
	}

	payload, err := json.Marshal(notification.OrderCreated{
		Ref:         notification.OrderRef(order.ID),
		OrderNumber: order.Number,
		Email:       order.Customer.Email,
		TotalAmount: order.TotalAmount.String(),
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := insertOutbox(ctx, tx, notification.OrderRef(order.ID), notification.TypeOrderCreated, payload, tracing.Traceparent(ctx)); err != nil {
		return domain.Order{}, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, classify(err)
	}
	return order, nil
}

// insertOrder allocates a unique order number, retrying on collision.
func (r *Repository) insertOrder(ctx context.Context, tx pgx.Tx, d domain.Draft) (domain.Order, error) {
	order := domain.Order{
		UserID:         d.UserID,
		Status:         domain.StatusPending,
		PaymentStatus:  domain.PaymentPending,
		Customer:       d.Customer,
		Billing:        d.Billing,
		Shipping:       d.Shipping,
		Subtotal:       d.Subtotal,
		TaxAmount:      d.TaxAmount,
		ShippingAmount: d.ShippingAmount,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		ShippingMethod: d.ShippingMethod,
		EstimatedDays:  d.EstimatedDays,
		Note:           d.Note,
	}

	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number := domain.NewOrderNumber(time.Now().UTC())
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (order_number, user_id, status, payment_status,
				customer_email, customer_first_name, customer_last_name, customer_phone,
				billing_line1, billing_line2, billing_city, billing_state, billing_postal_code, billing_country,
				shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_postal_code, shipping_country,
				subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
				shipping_method, estimated_days, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
			ON CONFLICT (order_number) DO NOTHING
			RETURNING id, created_at, updated_at`,
			number, d.UserID, domain.StatusPending, domain.PaymentPending,
			d.Customer.Email, d.Customer.FirstName, d.Customer.LastName, d.Customer.Phone,
			d.Billing.Line1, d.Billing.Line2, d.Billing.City, d.Billing.State, d.Billing.PostalCode, d.Billing.Country,
			d.Shipping.Line1, d.Shipping.Line2, d.Shipping.City, d.Shipping.State, d.Shipping.PostalCode, d.Shipping.Country,
			d.Subtotal, d.TaxAmount, d.ShippingAmount, d.DiscountAmount, d.TotalAmount,
			d.ShippingMethod, d.EstimatedDays, d.Note).
			Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // number collision, roll a new one
		}
		if err != nil {
			return domain.Order{}, err
		}
		order.Number = number
		return order, nil
	}
	return domain.Order{}, fmt.Errorf("could not allocate a unique order number after %d attempts", orderNumberAttempts)
}

type lineRef struct {
	recordID int64
	quantity int
}

func (r *Repository) Transition(ctx context.Context, orderID int64, next domain.Status, actor, note string) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, classify(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var number string
	var cur domain.Status
	err = tx.QueryRow(ctx,
		`SELECT order_number, status FROM orders WHERE id = $1 FOR UPDATE`, orderID).
		Scan(&number, &cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, classify(err)
	}

	if !domain.CanTransition(cur, next) {
		return domain.Order{}, &domain.IllegalTransitionError{From: cur, To: next}
	}

	trackingNumber := ""
	switch {
	case next == domain.StatusCancelled && domain.ReleasesStock(cur):
		if err := r.forEachLine(ctx, tx, orderID, func(l lineRef) error {
			_, _, err := r.ledger.Release(ctx, tx, l.recordID, l.quantity, number, actor)
			return err
		}); err != nil {
			return domain.Order{}, classify(err)
		}
	case next == domain.StatusShipped:
		trackingNumber = domain.NewTrackingNumber(time.Now().UTC())
		if err := r.forEachLine(ctx, tx, orderID, func(l lineRef) error {
			rec, _, err := r.ledger.Consume(ctx, tx, l.recordID, l.quantity, number, actor)
			if err != nil {
				return err
			}
			if rec.LowStock() {
				return lowStockEvent(ctx, tx, rec)
			}
			return nil
		}); err != nil {
			return domain.Order{}, classify(err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
			tracking_number = COALESCE(NULLIF($3, ''), tracking_number),
			updated_at = now()
		WHERE id = $1`, orderID, next, trackingNumber)
	if err != nil {
		return domain.Order{}, classify(err)
	}

	if note == "" {
		note = fmt.Sprintf("status changed from %s to %s", cur, next)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_events (order_id, status, note, actor)
		VALUES ($1, $2, $3, $4)`, orderID, next, note, actor)
	if err != nil {
		return domain.Order{}, classify(err)
	}

	payload, err := json.Marshal(notification.OrderStatusChanged{
		Ref:         notification.OrderRef(orderID),
		OrderNumber: number,
		From:        string(cur),
		To:          string(next),
		Note:        note,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := insertOutbox(ctx, tx, notification.OrderRef(orderID), notification.TypeOrderStatusChanged, payload, tracing.Traceparent(ctx)); err != nil {
		return domain.Order{}, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, classify(err)
	}
	return r.Get(ctx, orderID)
}

func (r *Repository) forEachLine(ctx context.Context, tx pgx.Tx, orderID int64, fn func(lineRef) error) error {
	rows, err := tx.Query(ctx,
		`SELECT inventory_record_id, quantity FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return err
	}
	var lines []lineRef
	for rows.Next() {
		var l lineRef
		if err := rows.Scan(&l.recordID, &l.quantity); err != nil {
			rows.Close()
			return err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, l := range lines {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func lowStockEvent(ctx context.Context, tx pgx.Tx, rec invdomain.Record) error {
	payload, err := json.Marshal(notification.LowStock{
		Ref:       notification.InventoryRef(rec.ID),
		ProductID: rec.ProductID,
		Available: rec.Available(),
		Threshold: rec.LowStockThreshold,
	})
	if err != nil {
		return err
	}
	return insertOutbox(ctx, tx, notification.InventoryRef(rec.ID), notification.TypeLowStock, payload, tracing.Traceparent(ctx))
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ref notification.Ref, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')`,
		ref.AggregateType(), ref.AggregateID(), eventType, payload, traceparent)
	return err
}

const orderColumns = `id, order_number, user_id, status, payment_status,
	customer_email, customer_first_name, customer_last_name, COALESCE(customer_phone, ''),
	billing_line1, COALESCE(billing_line2, ''), billing_city, billing_state, billing_postal_code, billing_country,
	shipping_line1, COALESCE(shipping_line2, ''), shipping_city, shipping_state, shipping_postal_code, shipping_country,
	subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
	shipping_method, estimated_days, COALESCE(tracking_number, ''), COALESCE(note, ''),
	created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.Customer.Email, &o.Customer.FirstName, &o.Customer.LastName, &o.Customer.Phone,
		&o.Billing.Line1, &o.Billing.Line2, &o.Billing.City, &o.Billing.State, &o.Billing.PostalCode, &o.Billing.Country,
		&o.Shipping.Line1, &o.Shipping.Line2, &o.Shipping.City, &o.Shipping.State, &o.Shipping.PostalCode, &o.Shipping.Country,
		&o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.ShippingMethod, &o.EstimatedDays, &o.TrackingNumber, &o.Note,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, inventory_record_id,
			product_name, COALESCE(product_sku, ''), COALESCE(variant_label, ''),
			quantity, unit_price, total_price, tax_amount, discount_amount
		FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.InventoryRecordID,
			&l.Name, &l.SKU, &l.VariantLabel, &l.Quantity, &l.UnitPrice, &l.TotalPrice,
			&l.TaxAmount, &l.DiscountAmount); err != nil {
			return domain.Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repository) History(ctx context.Context, orderID int64) ([]domain.StatusEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, status, COALESCE(note, ''), COALESCE(actor, ''), created_at
		FROM order_status_events WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) SetPaymentStatus(ctx context.Context, orderID int64, status domain.PaymentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}
