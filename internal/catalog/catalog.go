package catalog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Product is the slice of catalog metadata checkout needs to price a draft.
type Product struct {
	ID         string
	SKU        string
	Name       string
	PriceCents int64
}

// Catalog supplies current prices. The catalog service itself is an external
// collaborator; this interface is its seam.
type Catalog interface {
	Snapshot(ctx context.Context, productIDs []string) (map[string]Product, error)
}

// Repo reads the local products table, which mirrors the catalog service.
type Repo struct{ DB *pgxpool.Pool }

var _ Catalog = (*Repo)(nil)

func (r *Repo) Snapshot(ctx context.Context, productIDs []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price_cents FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(productIDs))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
