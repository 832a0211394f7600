package coupon

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed coupon Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) Get(ctx context.Context, code string) (*Coupon, error) {
	var (
		c       Coupon
		typ     string
		maxDisc sql.NullInt64
		maxUses sql.NullInt32
		perUser sql.NullInt32
	)
	err := r.DB.QueryRow(ctx, `
		SELECT code, discount_type, discount_value, min_cart_cents, max_discount_cents,
		       max_uses, per_user_limit, used_count, valid_from, valid_until
		FROM coupons WHERE code=$1`, code).Scan(
		&c.Code, &typ, &c.Value, &c.MinCartCents, &maxDisc,
		&maxUses, &perUser, &c.UsedCount, &c.ValidFrom, &c.ValidUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Type = Type(typ)
	c.MaxDiscountCents = maxDisc.Int64
	c.MaxUses = int(maxUses.Int32)
	c.PerUserLimit = int(perUser.Int32)
	return &c, nil
}

func (r *Repo) CustomerUses(ctx context.Context, code, customerID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_code=$1 AND customer_id=$2`,
		code, customerID).Scan(&n)
	return n, err
}

// IncrementUsage bumps used_count exactly once per order: the redemption row
// is keyed on (code, order_id) and the counter only moves when that insert
// actually lands.
func (r *Repo) IncrementUsage(ctx context.Context, code, customerID, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO coupon_redemptions(coupon_code, customer_id, order_id)
		VALUES ($1,$2,$3) ON CONFLICT (coupon_code, order_id) DO NOTHING`,
		code, customerID, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil // replay, counter already moved
	}
	if _, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE code=$1`, code); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
