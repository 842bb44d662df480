// Package domain defines the payment-gateway contract. The gateway is only
// used to fund wallet recharges; it takes no part in the billing math.
package domain

import (
	"context"
	"errors"
)

// GatewayOrder is the provider-side order created ahead of a payment.
type GatewayOrder struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Receipt  string  `json:"receipt"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount float64, currency, receipt string) (GatewayOrder, error)

	// VerifyPayment checks the provider signature over (orderID, paymentID).
	VerifyPayment(orderID, paymentID, signature string) bool
}

var (
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrOrderCreateFailed  = errors.New("gateway_order_create_failed")
)
