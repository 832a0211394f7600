package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/orders"
)

var ErrGateway = errors.New("payment: gateway failure")

// Handle is what the processor hands back for an initiated transaction.
type Handle struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
}

// Gateway talks to the external payment processor.
type Gateway struct {
	URL    string
	Client *http.Client
	Policy Policy
	Log    *zap.Logger
}

func NewGateway(url string, policy Policy, log *zap.Logger) *Gateway {
	return &Gateway{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Policy: policy,
		Log:    log,
	}
}

type initiateRequest struct {
	TxRef       string `json:"tx_ref"`
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type initiateResponse struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
}

// Initiate asks the processor to open a transaction for the order. The
// tx_ref is merchant-generated so the webhook can be tied back even when the
// processor response is lost. Transient failures retry under the policy.
func (g *Gateway) Initiate(ctx context.Context, o *orders.Order) (*Handle, error) {
	req := initiateRequest{
		TxRef:       "tx-" + uuid.NewString(),
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		AmountCents: o.TotalCents,
		Currency:    "USD",
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var out initiateResponse
	err = g.Policy.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.Client.Do(httpReq)
		if err != nil {
			g.Log.Warn("payment initiate attempt failed", zap.String("order_id", o.ID), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			g.Log.Warn("payment initiate rejected",
				zap.String("order_id", o.ID), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: processor returned %d", ErrGateway, resp.StatusCode)
		}
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	ref := out.Reference
	if ref == "" {
		ref = req.TxRef
	}
	return &Handle{Reference: ref, CheckoutURL: out.CheckoutURL}, nil
}
