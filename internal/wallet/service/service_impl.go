package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	paymentdomain "github.com/talktime/talktime/internal/payment/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"github.com/talktime/talktime/pkg/db"
	"github.com/talktime/talktime/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Gateway paymentdomain.Gateway
	Billing *config.BillingConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	gateway paymentdomain.Gateway
	billing *config.BillingConfigHolder
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		gateway: p.Gateway,
		billing: p.Billing,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID, expertID, currency string) (walletdomain.Balance, error) {
	uid, eid, err := parseIDs(userID, expertID)
	if err != nil {
		return walletdomain.Balance{}, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return walletdomain.Balance{}, walletdomain.ErrInvalidCurrency
	}

	var balance walletdomain.Balance
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND expert_id = ? AND currency = ?", uid, eid, currency).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletdomain.Balance{
			UserID:   uid,
			ExpertID: eid,
			Currency: currency,
		}, nil
	}
	if err != nil {
		return walletdomain.Balance{}, err
	}
	return balance, nil
}

func (s *Service) Credit(ctx context.Context, req walletdomain.CreditRequest) (walletdomain.Transaction, error) {
	uid, eid, err := parseIDs(req.UserID, req.ExpertID)
	if err != nil {
		return walletdomain.Transaction{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return walletdomain.Transaction{}, walletdomain.ErrInvalidCurrency
	}
	if !req.Type.Valid() || req.Type == walletdomain.TransactionTypeDeduction || req.Type == walletdomain.TransactionTypeOrderPayment {
		return walletdomain.Transaction{}, walletdomain.ErrInvalidTransactionType
	}
	if req.Amount <= 0 {
		return walletdomain.Transaction{}, walletdomain.ErrInvalidAmount
	}

	var orderID *snowflake.ID
	if strings.TrimSpace(req.OrderID) != "" {
		parsed, err := snowflake.ParseString(req.OrderID)
		if err != nil {
			return walletdomain.Transaction{}, walletdomain.ErrInvalidOrderID
		}
		orderID = &parsed
	}

	realCredit := walletdomain.RealBalanceCredit(req.Type, req.Amount)
	now := s.clock.Now()

	var entry walletdomain.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockBalance(ctx, tx, uid, eid, currency, now)
		if err != nil {
			return err
		}

		balance.TotalBalance += req.Amount
		balance.RealBalance += realCredit
		balance.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(balance).Error; err != nil {
			return err
		}

		entry = walletdomain.Transaction{
			ID:         s.genID.Generate(),
			UserID:     uid,
			ExpertID:   eid,
			OrderID:    orderID,
			Type:       req.Type,
			Status:     walletdomain.TransactionStatusCompleted,
			Amount:     req.Amount,
			RealAmount: realCredit,
			Currency:   currency,
			Metadata:   datatypes.JSONMap(req.Metadata),
			CreatedAt:  now,
		}
		return tx.WithContext(ctx).Create(&entry).Error
	})
	if err != nil {
		return walletdomain.Transaction{}, err
	}
	return entry, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID, expertID, currency string, page pagination.Pagination) ([]walletdomain.Transaction, pagination.PageInfo, error) {
	uid, eid, err := parseIDs(userID, expertID)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, pagination.PageInfo{}, walletdomain.ErrInvalidCurrency
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND expert_id = ? AND currency = ?", uid, eid, currency).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)
	if cursor.ID != "" {
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
		afterAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			afterAt, afterAt, afterID,
		)
	}

	var entries []walletdomain.Transaction
	if err := query.Find(&entries).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	info := pagination.PageInfo{}
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		info.HasMore = true
		info.NextPageToken = token
	}
	return entries, info, nil
}

// DebitTx deducts amount from the wallet inside the caller's transaction,
// reducing the real sub-balance proportionally: the real-to-bonus ratio is
// preserved through every debit so bonus credit can never masquerade as
// payable money.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req walletdomain.DebitRequest) (walletdomain.DebitResult, error) {
	if req.Amount < 0 {
		return walletdomain.DebitResult{}, walletdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return walletdomain.DebitResult{}, walletdomain.ErrInvalidCurrency
	}
	now := s.clock.Now()

	balance, err := s.lockBalance(ctx, tx, req.UserID, req.ExpertID, currency, now)
	if err != nil {
		return walletdomain.DebitResult{}, err
	}

	real := balance.RealBalance
	ratio := walletdomain.ExtractRealRatio(balance.TotalBalance, &real)

	realDeducted := req.Amount * ratio
	newTotal := balance.TotalBalance - req.Amount
	if newTotal < 0 {
		newTotal = 0
	}
	newReal := balance.RealBalance - realDeducted
	if newReal < 0 {
		newReal = 0
		realDeducted = balance.RealBalance
	}
	if newReal > newTotal {
		newReal = newTotal
	}

	balance.TotalBalance = newTotal
	balance.RealBalance = newReal
	balance.UpdatedAt = now
	if err := tx.WithContext(ctx).Save(balance).Error; err != nil {
		return walletdomain.DebitResult{}, err
	}

	orderID := req.OrderID
	entry := walletdomain.Transaction{
		ID:         s.genID.Generate(),
		UserID:     req.UserID,
		ExpertID:   req.ExpertID,
		OrderID:    &orderID,
		Type:       walletdomain.TransactionTypeDeduction,
		Status:     walletdomain.TransactionStatusCompleted,
		Amount:     -req.Amount,
		RealAmount: realDeducted,
		Currency:   currency,
		CreatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return walletdomain.DebitResult{}, walletdomain.ErrDuplicateDeduction
		}
		return walletdomain.DebitResult{}, err
	}

	return walletdomain.DebitResult{
		RealDeducted:  realDeducted,
		RealRatio:     ratio,
		TotalAfter:    newTotal,
		RealAfter:     newReal,
		TransactionID: entry.ID,
	}, nil
}

func (s *Service) CreditEarningsTx(ctx context.Context, tx *gorm.DB, expertID snowflake.ID, currency string, amount float64, orderID snowflake.ID) error {
	if amount < 0 {
		return walletdomain.ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	now := s.clock.Now()

	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "expert_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("expert_earnings.balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&walletdomain.EarningsBalance{
		ExpertID:  expertID,
		Currency:  currency,
		Balance:   amount,
		UpdatedAt: now,
	}).Error; err != nil {
		return err
	}

	entry := walletdomain.Transaction{
		ID:         s.genID.Generate(),
		UserID:     0,
		ExpertID:   expertID,
		OrderID:    &orderID,
		Type:       walletdomain.TransactionTypeOrderPayment,
		Status:     walletdomain.TransactionStatusCompleted,
		Amount:     amount,
		RealAmount: amount,
		Currency:   currency,
		CreatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return walletdomain.ErrDuplicateDeduction
		}
		return err
	}
	return nil
}

func (s *Service) InitiateRecharge(ctx context.Context, req walletdomain.RechargeInitRequest) (walletdomain.RechargeInitResponse, error) {
	if _, _, err := parseIDs(req.UserID, req.ExpertID); err != nil {
		return walletdomain.RechargeInitResponse{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return walletdomain.RechargeInitResponse{}, walletdomain.ErrInvalidCurrency
	}
	if req.Amount <= 0 {
		return walletdomain.RechargeInitResponse{}, walletdomain.ErrInvalidAmount
	}
	if req.Amount < s.billing.Get().MinRechargeAmount {
		return walletdomain.RechargeInitResponse{}, walletdomain.ErrAmountBelowMinimum
	}

	receipt := "wallet_" + uuid.NewString()
	order, err := s.gateway.CreateOrder(ctx, req.Amount, currency, receipt)
	if err != nil {
		return walletdomain.RechargeInitResponse{}, err
	}

	return walletdomain.RechargeInitResponse{
		GatewayOrderID: order.ID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Receipt:        order.Receipt,
	}, nil
}

func (s *Service) ConfirmRecharge(ctx context.Context, req walletdomain.RechargeConfirmRequest) (walletdomain.Transaction, error) {
	if !s.gateway.VerifyPayment(req.GatewayOrderID, req.PaymentID, req.Signature) {
		return walletdomain.Transaction{}, walletdomain.ErrPaymentNotVerified
	}

	return s.Credit(ctx, walletdomain.CreditRequest{
		UserID:   req.UserID,
		ExpertID: req.ExpertID,
		Currency: req.Currency,
		Type:     walletdomain.TransactionTypeRecharge,
		Amount:   req.Amount,
		Metadata: map[string]any{
			"gateway_order_id": req.GatewayOrderID,
			"payment_id":       req.PaymentID,
		},
	})
}

// lockBalance loads the wallet row for update, creating it on first use.
func (s *Service) lockBalance(ctx context.Context, tx *gorm.DB, userID, expertID snowflake.ID, currency string, now time.Time) (*walletdomain.Balance, error) {
	query := tx.WithContext(ctx)
	if db.SupportsSkipLocked(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance walletdomain.Balance
	err := query.
		Where("user_id = ? AND expert_id = ? AND currency = ?", userID, expertID, currency).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = walletdomain.Balance{
			ID:        s.genID.Generate(),
			UserID:    userID,
			ExpertID:  expertID,
			Currency:  currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&balance).Error; err != nil {
			return nil, err
		}
		return &balance, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func parseIDs(userID, expertID string) (snowflake.ID, snowflake.ID, error) {
	uid, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil {
		return 0, 0, walletdomain.ErrWalletNotFound
	}
	eid, err := snowflake.ParseString(strings.TrimSpace(expertID))
	if err != nil {
		return 0, 0, walletdomain.ErrWalletNotFound
	}
	return uid, eid, nil
}
