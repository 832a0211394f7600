package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one recorded webhook delivery. Immutable once written; the
// processor-assigned EventID is the deduplication key.
type Event struct {
	EventID      string
	OrderID      string
	Type         string // success | failed | reversal
	RawSignature string
	ReceivedAt   time.Time
	Processed    bool
}

type EventStore interface {
	// Record inserts the event and reports whether it was new. An existing
	// row with the same event id means a duplicate delivery.
	Record(ctx context.Context, ev Event) (bool, error)
	Get(ctx context.Context, eventID string) (*Event, error)
	MarkProcessed(ctx context.Context, eventID string) error
	ByOrder(ctx context.Context, orderID string) ([]Event, error)
}

// EventRepo is the Postgres-backed EventStore.
type EventRepo struct{ DB *pgxpool.Pool }

var _ EventStore = (*EventRepo)(nil)

func (r *EventRepo) Record(ctx context.Context, ev Event) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payment_events(event_id, order_id, event_type, raw_signature)
		VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.OrderID, ev.Type, ev.RawSignature)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *EventRepo) Get(ctx context.Context, eventID string) (*Event, error) {
	var ev Event
	err := r.DB.QueryRow(ctx, `
		SELECT event_id, order_id, event_type, raw_signature, received_at, processed
		FROM payment_events WHERE event_id=$1`, eventID).
		Scan(&ev.EventID, &ev.OrderID, &ev.Type, &ev.RawSignature, &ev.ReceivedAt, &ev.Processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *EventRepo) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE payment_events SET processed=TRUE WHERE event_id=$1`, eventID)
	return err
}

func (r *EventRepo) ByOrder(ctx context.Context, orderID string) ([]Event, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_id, order_id, event_type, raw_signature, received_at, processed
		FROM payment_events WHERE order_id=$1 ORDER BY received_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.EventID, &ev.OrderID, &ev.Type, &ev.RawSignature, &ev.ReceivedAt, &ev.Processed); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
