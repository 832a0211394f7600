package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var coupon any
	if o.CouponCode != "" {
		coupon = o.CouponCode
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, state, version, reservation_id, coupon_code,
		                   subtotal_cents, discount_cents, shipping_cents, tax_cents, total_cents,
		                   shipping_address, billing_address)
		VALUES ($1,$2,$3,1,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.CustomerID, string(o.State), o.ReservationID, coupon,
		o.SubtotalCents, o.DiscountCents, o.ShippingCents, o.TaxCents, o.TotalCents,
		o.ShippingAddress, o.BillingAddress)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price_cents, product_name, product_sku)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.Qty, it.UnitPriceCents, it.ProductName, it.ProductSKU); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, state, comment) VALUES ($1,$2,$3)`,
		o.ID, string(o.State), "order created"); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.getWhere(ctx, `id=$1`, id)
}

func (r *Repo) GetByPaymentRef(ctx context.Context, ref string) (*Order, error) {
	return r.getWhere(ctx, `payment_ref=$1`, ref)
}

func (r *Repo) getWhere(ctx context.Context, where string, arg any) (*Order, error) {
	var (
		o      Order
		state  string
		coupon sql.NullString
		payRef sql.NullString
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, state, version, reservation_id, coupon_code,
		       subtotal_cents, discount_cents, shipping_cents, tax_cents, total_cents,
		       shipping_address, billing_address, payment_ref, created_at, updated_at
		FROM orders WHERE `+where, arg).Scan(
		&o.ID, &o.CustomerID, &state, &o.Version, &o.ReservationID, &coupon,
		&o.SubtotalCents, &o.DiscountCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.ShippingAddress, &o.BillingAddress, &payRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.State = State(state)
	o.CouponCode = coupon.String
	o.PaymentRef = payRef.String

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, qty, unit_price_cents, product_name, product_sku
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPriceCents, &it.ProductName, &it.ProductSKU); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *Repo) ApplyTransition(ctx context.Context, orderID string, expectedVersion int64, to State, comment string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET state=$1, version=version+1, updated_at=NOW()
		WHERE id=$2 AND version=$3`, string(to), orderID, expectedVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Either the order is gone or someone else won the version race.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleVersion
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, state, comment) VALUES ($1,$2,$3)`,
		orderID, string(to), comment); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) SetPaymentRef(ctx context.Context, orderID, ref string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_ref=$1, updated_at=NOW() WHERE id=$2`, ref, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) PendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE state=$1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3`, string(StatePendingPayment), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repo) History(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, state, comment, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var state string
		if err := rows.Scan(&h.OrderID, &state, &h.Comment, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.State = State(state)
		out = append(out, h)
	}
	return out, rows.Err()
}
