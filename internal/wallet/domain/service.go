package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/talktime/talktime/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreditRequest struct {
	UserID   string          `json:"user_id"`
	ExpertID string          `json:"expert_id"`
	Currency string          `json:"currency"`
	Type     TransactionType `json:"type"`
	Amount   float64         `json:"amount"`
	OrderID  string          `json:"order_id,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type DebitRequest struct {
	UserID   snowflake.ID
	ExpertID snowflake.ID
	Currency string
	Amount   float64
	OrderID  snowflake.ID
}

// DebitResult reports the proportional split applied by a debit.
type DebitResult struct {
	RealDeducted  float64
	RealRatio     float64
	TotalAfter    float64
	RealAfter     float64
	TransactionID snowflake.ID
}

type RechargeInitRequest struct {
	UserID   string  `json:"user_id"`
	ExpertID string  `json:"expert_id"`
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

type RechargeInitResponse struct {
	GatewayOrderID string  `json:"gateway_order_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Receipt        string  `json:"receipt"`
}

type RechargeConfirmRequest struct {
	UserID         string  `json:"user_id"`
	ExpertID       string  `json:"expert_id"`
	Currency       string  `json:"currency"`
	Amount         float64 `json:"amount"`
	GatewayOrderID string  `json:"gateway_order_id"`
	PaymentID      string  `json:"payment_id"`
	Signature      string  `json:"signature"`
}

type Service interface {
	GetBalance(ctx context.Context, userID, expertID, currency string) (Balance, error)
	Credit(ctx context.Context, req CreditRequest) (Transaction, error)

	// ListTransactions pages the ledger newest-first.
	ListTransactions(ctx context.Context, userID, expertID, currency string, page pagination.Pagination) ([]Transaction, pagination.PageInfo, error)

	// DebitTx applies a proportional real/bonus debit inside the caller's
	// transaction and writes the matching ledger entry. It is the only write
	// path used by finalize.
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (DebitResult, error)

	// CreditEarningsTx accrues the expert's share inside the caller's
	// transaction.
	CreditEarningsTx(ctx context.Context, tx *gorm.DB, expertID snowflake.ID, currency string, amount float64, orderID snowflake.ID) error

	InitiateRecharge(ctx context.Context, req RechargeInitRequest) (RechargeInitResponse, error)
	ConfirmRecharge(ctx context.Context, req RechargeConfirmRequest) (Transaction, error)
}

var (
	ErrWalletNotFound         = errors.New("wallet_not_found")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidOrderID         = errors.New("invalid_order_id")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInsufficientBalance    = errors.New("insufficient_wallet_balance")
	ErrDuplicateDeduction     = errors.New("duplicate_deduction")
	ErrPaymentNotVerified     = errors.New("payment_not_verified")
	ErrAmountBelowMinimum     = errors.New("amount_below_minimum")
)
