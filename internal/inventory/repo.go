package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Ledger. Every operation runs in one
// transaction; stock rows are locked FOR UPDATE in sorted product-id order so
// two overlapping reservations can never deadlock each other.
type Repo struct{ DB *pgxpool.Pool }

var _ Ledger = (*Repo)(nil)

func sortedCopy(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (r *Repo) Reserve(ctx context.Context, orderID string, items []Item, ttl time.Duration) (*Reservation, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sorted := sortedCopy(items)

	var shortages []ShortageDetail
	for _, it := range sorted {
		var available int
		if err := tx.QueryRow(ctx, `SELECT available FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&available); err != nil {
			return nil, err
		}
		if available < it.Qty {
			shortages = append(shortages, ShortageDetail{ProductID: it.ProductID, Required: it.Qty, Available: available})
		}
	}
	if len(shortages) > 0 {
		return nil, &InsufficientStockError{Details: shortages} // rollback via defer
	}

	for _, it := range sorted {
		var available, reserved int
		err := tx.QueryRow(ctx, `
			UPDATE products SET available = available - $2, reserved = reserved + $2, updated_at = NOW()
			WHERE id=$1 RETURNING available, reserved`, it.ProductID, it.Qty).Scan(&available, &reserved)
		if err != nil {
			return nil, err
		}
		if available < 0 || reserved < 0 {
			return nil, ErrLedgerCorrupt
		}
	}

	res := &Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Items:     sorted,
		Status:    StatusHeld,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(id, order_id, status, expires_at) VALUES ($1,$2,$3,$4)`,
		res.ID, orderID, string(StatusHeld), res.ExpiresAt); err != nil {
		return nil, err
	}
	for _, it := range sorted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservation_items(reservation_id, product_id, qty) VALUES ($1,$2,$3)`,
			res.ID, it.ProductID, it.Qty); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repo) Commit(ctx context.Context, reservationID string) error {
	_, err := r.settle(ctx, reservationID, StatusCommitted)
	return err
}

func (r *Repo) Release(ctx context.Context, reservationID string) error {
	_, err := r.settle(ctx, reservationID, StatusReleased)
	return err
}

// settle moves a HELD reservation to its settled status. Committing burns
// the reserved quantity; releasing puts it back into available. Repeats and
// races resolve to a no-op because the status row is locked first; the bool
// reports whether this call was the one that settled.
func (r *Repo) settle(ctx context.Context, reservationID string, target Status) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if Status(status) != StatusHeld {
		return false, nil // already settled, whoever got here first won
	}

	items, err := r.reservationItems(ctx, tx, reservationID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		q := `UPDATE products SET reserved = reserved - $2, updated_at = NOW() WHERE id=$1 RETURNING available, reserved`
		if target == StatusReleased {
			q = `UPDATE products SET reserved = reserved - $2, available = available + $2, updated_at = NOW() WHERE id=$1 RETURNING available, reserved`
		}
		var available, reserved int
		if err := tx.QueryRow(ctx, q, it.ProductID, it.Qty).Scan(&available, &reserved); err != nil {
			return false, err
		}
		if available < 0 || reserved < 0 {
			return false, ErrLedgerCorrupt
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`, reservationID, string(target)); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) reservationItems(ctx context.Context, tx pgx.Tx, reservationID string) ([]Item, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservation_items
		WHERE reservation_id=$1 ORDER BY product_id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repo) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM reservations WHERE status=$1 AND expires_at <= $2`,
		string(StatusHeld), now)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	// Each release is its own transaction with the per-reservation status
	// re-check, so a Commit racing the sweep settles cleanly either way.
	// Only releases this sweep actually performed count.
	released := 0
	for _, id := range ids {
		acted, err := r.settle(ctx, id, StatusReleased)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return released, err
		}
		if acted {
			released++
		}
	}
	return released, nil
}

func (r *Repo) Restock(ctx context.Context, reservationID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) != StatusCommitted {
		return nil // not sold, or already restocked
	}

	items, err := r.reservationItems(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET available = available + $2, updated_at = NOW() WHERE id=$1`,
			it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`,
		reservationID, string(StatusRestocked)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
