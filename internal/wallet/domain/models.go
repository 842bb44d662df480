// Package domain contains the wallet balance and transaction models. The
// wallet is keyed per (user, expert, currency) and splits the total balance
// into a "real" sub-balance backed by gateway-settled money, as opposed to
// promotional credit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypeRecharge      TransactionType = "RECHARGE"
	TransactionTypeBonus         TransactionType = "BONUS"
	TransactionTypeCashback      TransactionType = "CASHBACK"
	TransactionTypeReferralBonus TransactionType = "REFERRAL_BONUS"
	TransactionTypeRefund        TransactionType = "REFUND"
	TransactionTypeOrderPayment  TransactionType = "ORDER_PAYMENT"
	TransactionTypeDeduction     TransactionType = "CONSULTATION_DEDUCTION"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeRecharge, TransactionTypeBonus, TransactionTypeCashback,
		TransactionTypeReferralBonus, TransactionTypeRefund,
		TransactionTypeOrderPayment, TransactionTypeDeduction:
		return true
	default:
		return false
	}
}

// TransactionStatus tracks settlement of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
)

// Balance is the running wallet total for a (user, expert, currency) triple.
// Invariant: 0 <= RealBalance <= TotalBalance after every operation.
type Balance struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	UserID   snowflake.ID `gorm:"not null;uniqueIndex:ux_wallet_user_expert_ccy,priority:1"`
	ExpertID snowflake.ID `gorm:"not null;uniqueIndex:ux_wallet_user_expert_ccy,priority:2"`
	Currency string       `gorm:"type:text;not null;uniqueIndex:ux_wallet_user_expert_ccy,priority:3"`

	TotalBalance float64 `gorm:"not null;default:0"`
	RealBalance  float64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "wallet_balances" }

// Transaction is an immutable, append-only ledger entry. Amount is signed:
// credits positive, debits negative. The partial unique index on
// (order_id, type) makes a second consultation deduction for the same order
// structurally impossible.
type Transaction struct {
	ID       snowflake.ID  `gorm:"primaryKey"`
	UserID   snowflake.ID  `gorm:"not null;index"`
	ExpertID snowflake.ID  `gorm:"not null;index"`
	OrderID  *snowflake.ID `gorm:"uniqueIndex:ux_wallet_tx_order_type,priority:1,where:order_id IS NOT NULL"`

	Type       TransactionType   `gorm:"type:text;not null;uniqueIndex:ux_wallet_tx_order_type,priority:2"`
	Status     TransactionStatus `gorm:"type:text;not null"`
	Amount     float64           `gorm:"not null"`
	RealAmount float64           `gorm:"not null;default:0"`
	Currency   string            `gorm:"type:text;not null"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "wallet_transactions" }

// EarningsBalance accumulates an expert's share of finalized consultations.
// Cash payouts are computed from this balance only, never from bonus credit.
type EarningsBalance struct {
	ExpertID  snowflake.ID `gorm:"primaryKey"`
	Currency  string       `gorm:"type:text;primaryKey"`
	Balance   float64      `gorm:"not null;default:0"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (EarningsBalance) TableName() string { return "expert_earnings" }
