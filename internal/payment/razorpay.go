// Package payment implements the payment-gateway contract against a
// Razorpay-style REST API with HMAC payment signatures.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/talktime/talktime/internal/config"
	"github.com/talktime/talktime/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	log       *zap.Logger
}

func NewGateway(cfg config.Config, log *zap.Logger) domain.Gateway {
	return &client{
		baseURL:   cfg.Gateway.BaseURL,
		keyID:     cfg.Gateway.KeyID,
		keySecret: cfg.Gateway.KeySecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log.Named("payment.gateway"),
	}
}

var Module = fx.Module("payment.gateway",
	fx.Provide(NewGateway),
)

type createOrderRequest struct {
	Amount   int64  `json:"amount"` // smallest currency unit
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// subunits converts a major-currency amount to the gateway's smallest unit.
// Rounding matters: 0.29*100 is 28.999... in float64 and a plain int64
// conversion would create the order one paisa short of what ConfirmRecharge
// later credits.
func subunits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (c *client) CreateOrder(ctx context.Context, amount float64, currency, receipt string) (domain.GatewayOrder, error) {
	payload, err := json.Marshal(createOrderRequest{
		Amount:   subunits(amount),
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return domain.GatewayOrder{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return domain.GatewayOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("gateway order create failed", zap.Int("status", resp.StatusCode))
		return domain.GatewayOrder{}, domain.ErrOrderCreateFailed
	}

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.GatewayOrder{}, err
	}

	return domain.GatewayOrder{
		ID:       out.ID,
		Amount:   float64(out.Amount) / 100,
		Currency: out.Currency,
		Receipt:  out.Receipt,
	}, nil
}

func (c *client) VerifyPayment(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
