package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap creates the tables the checkout core owns. Idempotent, so every
// binary can run it at startup.
func Bootstrap(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		price_cents BIGINT NOT NULL,
		available INT NOT NULL CHECK (available >= 0),
		reserved INT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		status TEXT NOT NULL, -- HELD | COMMITTED | RELEASED | RESTOCKED
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations(status, expires_at);

	CREATE TABLE IF NOT EXISTS reservation_items (
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		qty INT NOT NULL CHECK (qty > 0),
		PRIMARY KEY (reservation_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		discount_type TEXT NOT NULL, -- percentage | fixed
		discount_value BIGINT NOT NULL,
		min_cart_cents BIGINT NOT NULL DEFAULT 0,
		max_discount_cents BIGINT,
		max_uses INT,
		per_user_limit INT,
		used_count INT NOT NULL DEFAULT 0,
		valid_from TIMESTAMPTZ NOT NULL,
		valid_until TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS coupon_redemptions (
		coupon_code TEXT NOT NULL REFERENCES coupons(code),
		customer_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		redeemed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (coupon_code, order_id)
	);
	CREATE INDEX IF NOT EXISTS idx_redemptions_customer ON coupon_redemptions(coupon_code, customer_id);

	CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS cart_items (
		cart_id TEXT NOT NULL REFERENCES carts(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		qty INT NOT NULL,
		PRIMARY KEY (cart_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		state TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		reservation_id TEXT NOT NULL,
		coupon_code TEXT,
		subtotal_cents BIGINT NOT NULL,
		discount_cents BIGINT NOT NULL DEFAULT 0,
		shipping_cents BIGINT NOT NULL DEFAULT 0,
		tax_cents BIGINT NOT NULL DEFAULT 0,
		total_cents BIGINT NOT NULL,
		shipping_address TEXT NOT NULL,
		billing_address TEXT NOT NULL DEFAULT '',
		payment_ref TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state, updated_at);
	CREATE INDEX IF NOT EXISTS idx_orders_payment_ref ON orders(payment_ref);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL,
		qty INT NOT NULL,
		unit_price_cents BIGINT NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		product_sku TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (order_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS order_status_history (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		state TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history(order_id);

	CREATE TABLE IF NOT EXISTS payment_events (
		event_id TEXT PRIMARY KEY, -- processor-assigned; the dedup key
		order_id TEXT NOT NULL,
		event_type TEXT NOT NULL, -- success | failed | reversal
		raw_signature TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_payment_events_order ON payment_events(order_id);
	`
	_, err := db.Exec(ctx, schema)
	return err
}
