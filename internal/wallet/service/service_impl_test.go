package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	paymentdomain "github.com/talktime/talktime/internal/payment/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"github.com/talktime/talktime/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	verify     bool
	lastAmount float64
}

func (f *fakeGateway) CreateOrder(_ context.Context, amount float64, currency, receipt string) (paymentdomain.GatewayOrder, error) {
	f.lastAmount = amount
	return paymentdomain.GatewayOrder{
		ID:       "order_test_1",
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (f *fakeGateway) VerifyPayment(orderID, paymentID, signature string) bool {
	return f.verify
}

type walletFixture struct {
	db      *gorm.DB
	svc     walletdomain.Service
	gateway *fakeGateway
	clock   *clock.FakeClock
	userID  snowflake.ID
	expert  snowflake.ID
}

func newWalletFixture(t *testing.T) *walletFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&walletdomain.Balance{},
		&walletdomain.Transaction{},
		&walletdomain.EarningsBalance{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	gateway := &fakeGateway{verify: true}
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Gateway: gateway,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})

	return &walletFixture{
		db:      db,
		svc:     svc,
		gateway: gateway,
		clock:   fake,
		userID:  node.Generate(),
		expert:  node.Generate(),
	}
}

func (f *walletFixture) credit(t *testing.T, txType walletdomain.TransactionType, amount float64) {
	t.Helper()
	_, err := f.svc.Credit(context.Background(), walletdomain.CreditRequest{
		UserID:   f.userID.String(),
		ExpertID: f.expert.String(),
		Currency: "INR",
		Type:     txType,
		Amount:   amount,
	})
	require.NoError(t, err)
}

func (f *walletFixture) balance(t *testing.T) walletdomain.Balance {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), f.userID.String(), f.expert.String(), "INR")
	require.NoError(t, err)
	return b
}

func TestCreditTracksRealSubBalance(t *testing.T) {
	f := newWalletFixture(t)

	f.credit(t, walletdomain.TransactionTypeRecharge, 1200)
	f.credit(t, walletdomain.TransactionTypeBonus, 14800)

	b := f.balance(t)
	assert.Equal(t, 16000.0, b.TotalBalance)
	assert.Equal(t, 1200.0, b.RealBalance)
}

func TestCreditRejectsDeductionTypes(t *testing.T) {
	f := newWalletFixture(t)

	_, err := f.svc.Credit(context.Background(), walletdomain.CreditRequest{
		UserID:   f.userID.String(),
		ExpertID: f.expert.String(),
		Currency: "INR",
		Type:     walletdomain.TransactionTypeDeduction,
		Amount:   100,
	})
	assert.ErrorIs(t, err, walletdomain.ErrInvalidTransactionType)

	_, err = f.svc.Credit(context.Background(), walletdomain.CreditRequest{
		UserID:   f.userID.String(),
		ExpertID: f.expert.String(),
		Currency: "INR",
		Type:     walletdomain.TransactionTypeRecharge,
		Amount:   -5,
	})
	assert.ErrorIs(t, err, walletdomain.ErrInvalidAmount)
}

func TestDebitTxProportionalSplit(t *testing.T) {
	f := newWalletFixture(t)
	f.credit(t, walletdomain.TransactionTypeRecharge, 1200)
	f.credit(t, walletdomain.TransactionTypeBonus, 14800)

	orderID := snowflake.ID(42)
	var result walletdomain.DebitResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.DebitTx(context.Background(), tx, walletdomain.DebitRequest{
			UserID:   f.userID,
			ExpertID: f.expert,
			Currency: "INR",
			Amount:   3000,
			OrderID:  orderID,
		})
		return err
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.075, result.RealRatio, 1e-9)
	assert.InDelta(t, 225.0, result.RealDeducted, 1e-9)
	assert.InDelta(t, 13000.0, result.TotalAfter, 1e-9)
	assert.InDelta(t, 975.0, result.RealAfter, 1e-9)

	b := f.balance(t)
	assert.InDelta(t, 13000.0, b.TotalBalance, 1e-9)
	assert.InDelta(t, 975.0, b.RealBalance, 1e-9)
}

func TestDebitTxDuplicateOrderDeduction(t *testing.T) {
	f := newWalletFixture(t)
	f.credit(t, walletdomain.TransactionTypeRecharge, 1000)

	orderID := snowflake.ID(7)
	debit := func() error {
		return f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.svc.DebitTx(context.Background(), tx, walletdomain.DebitRequest{
				UserID:   f.userID,
				ExpertID: f.expert,
				Currency: "INR",
				Amount:   100,
				OrderID:  orderID,
			})
			return err
		})
	}

	require.NoError(t, debit())
	assert.ErrorIs(t, debit(), walletdomain.ErrDuplicateDeduction)

	var count int64
	require.NoError(t, f.db.Model(&walletdomain.Transaction{}).
		Where("order_id = ? AND type = ?", orderID, walletdomain.TransactionTypeDeduction).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWalletInvariantAcrossSequence(t *testing.T) {
	f := newWalletFixture(t)

	steps := []struct {
		txType walletdomain.TransactionType
		amount float64
	}{
		{walletdomain.TransactionTypeRecharge, 500},
		{walletdomain.TransactionTypeBonus, 2000},
		{walletdomain.TransactionTypeCashback, 300},
		{walletdomain.TransactionTypeRecharge, 700},
	}
	for _, step := range steps {
		f.credit(t, step.txType, step.amount)
	}

	for i, amount := range []float64{400, 900, 2200} {
		err := f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.svc.DebitTx(context.Background(), tx, walletdomain.DebitRequest{
				UserID:   f.userID,
				ExpertID: f.expert,
				Currency: "INR",
				Amount:   amount,
				OrderID:  snowflake.ID(100 + i),
			})
			return err
		})
		require.NoError(t, err)

		b := f.balance(t)
		assert.GreaterOrEqual(t, b.RealBalance, 0.0)
		assert.LessOrEqual(t, b.RealBalance, b.TotalBalance+1e-9)
	}
}

func TestCreditEarningsTxAccumulates(t *testing.T) {
	f := newWalletFixture(t)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.CreditEarningsTx(context.Background(), tx, f.expert, "INR", 202.50, snowflake.ID(55))
	})
	require.NoError(t, err)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.CreditEarningsTx(context.Background(), tx, f.expert, "INR", 100, snowflake.ID(56))
	})
	require.NoError(t, err)

	var earnings walletdomain.EarningsBalance
	require.NoError(t, f.db.First(&earnings, "expert_id = ? AND currency = ?", f.expert, "INR").Error)
	assert.InDelta(t, 302.50, earnings.Balance, 1e-9)
}

func TestInitiateRechargeBelowMinimum(t *testing.T) {
	f := newWalletFixture(t)

	_, err := f.svc.InitiateRecharge(context.Background(), walletdomain.RechargeInitRequest{
		UserID:   f.userID.String(),
		ExpertID: f.expert.String(),
		Currency: "INR",
		Amount:   10,
	})
	assert.ErrorIs(t, err, walletdomain.ErrAmountBelowMinimum)
}

func TestConfirmRechargeRejectsBadSignature(t *testing.T) {
	f := newWalletFixture(t)
	f.gateway.verify = false

	_, err := f.svc.ConfirmRecharge(context.Background(), walletdomain.RechargeConfirmRequest{
		UserID:         f.userID.String(),
		ExpertID:       f.expert.String(),
		Currency:       "INR",
		Amount:         500,
		GatewayOrderID: "order_test_1",
		PaymentID:      "pay_1",
		Signature:      "bad",
	})
	assert.ErrorIs(t, err, walletdomain.ErrPaymentNotVerified)
}

func TestConfirmRechargeCreditsRealBalance(t *testing.T) {
	f := newWalletFixture(t)

	entry, err := f.svc.ConfirmRecharge(context.Background(), walletdomain.RechargeConfirmRequest{
		UserID:         f.userID.String(),
		ExpertID:       f.expert.String(),
		Currency:       "INR",
		Amount:         500,
		GatewayOrderID: "order_test_1",
		PaymentID:      "pay_1",
		Signature:      "good",
	})
	require.NoError(t, err)
	assert.Equal(t, walletdomain.TransactionTypeRecharge, entry.Type)
	assert.Equal(t, 500.0, entry.RealAmount)

	b := f.balance(t)
	assert.Equal(t, 500.0, b.TotalBalance)
	assert.Equal(t, 500.0, b.RealBalance)
}

func TestListTransactionsPagesNewestFirst(t *testing.T) {
	f := newWalletFixture(t)

	amounts := []float64{100, 200, 300, 400, 500}
	for _, amount := range amounts {
		f.credit(t, walletdomain.TransactionTypeRecharge, amount)
		f.clock.Advance(time.Minute)
	}

	page1, info, err := f.svc.ListTransactions(context.Background(),
		f.userID.String(), f.expert.String(), "INR",
		pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, 500.0, page1[0].Amount)
	assert.Equal(t, 400.0, page1[1].Amount)

	page2, info, err := f.svc.ListTransactions(context.Background(),
		f.userID.String(), f.expert.String(), "INR",
		pagination.Pagination{PageSize: 2, PageToken: info.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, 300.0, page2[0].Amount)
	assert.Equal(t, 200.0, page2[1].Amount)

	page3, info, err := f.svc.ListTransactions(context.Background(),
		f.userID.String(), f.expert.String(), "INR",
		pagination.Pagination{PageSize: 2, PageToken: info.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
	assert.Equal(t, 100.0, page3[0].Amount)
}

func TestListTransactionsRejectsBadToken(t *testing.T) {
	f := newWalletFixture(t)

	_, _, err := f.svc.ListTransactions(context.Background(),
		f.userID.String(), f.expert.String(), "INR",
		pagination.Pagination{PageToken: "not-base64!"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestCreditRejectsMalformedOrderID(t *testing.T) {
	f := newWalletFixture(t)

	_, err := f.svc.Credit(context.Background(), walletdomain.CreditRequest{
		UserID:   f.userID.String(),
		ExpertID: f.expert.String(),
		Currency: "INR",
		Type:     walletdomain.TransactionTypeRefund,
		Amount:   100,
		OrderID:  "not-a-snowflake",
	})
	assert.ErrorIs(t, err, walletdomain.ErrInvalidOrderID)
}
