package checkout

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CartItem struct {
	ProductID string
	Qty       int
}

type Cart struct {
	ID         string
	CustomerID string
	Items      []CartItem
}

var ErrCartNotFound = errors.New("checkout: cart not found")

type CartStore interface {
	Get(ctx context.Context, id string) (*Cart, error)
}

// CartRepo reads carts from Postgres.
type CartRepo struct{ DB *pgxpool.Pool }

var _ CartStore = (*CartRepo)(nil)

func (r *CartRepo) Get(ctx context.Context, id string) (*Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `SELECT id, customer_id FROM carts WHERE id=$1`, id).
		Scan(&c.ID, &c.CustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, qty FROM cart_items WHERE cart_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}
