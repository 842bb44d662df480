package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	consultationrepo "github.com/talktime/talktime/internal/consultation/repository"
	paymentdomain "github.com/talktime/talktime/internal/payment/domain"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
	summaryservice "github.com/talktime/talktime/internal/summary/service"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	walletservice "github.com/talktime/talktime/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeVideo struct {
	ended []string
}

func (f *fakeVideo) CreateCall(_ context.Context, req videodomain.CreateCallRequest) (videodomain.CreateCallResponse, error) {
	return videodomain.CreateCallResponse{CallCID: "default:" + req.OrderID}, nil
}

func (f *fakeVideo) EndCall(_ context.Context, callCID string) error {
	f.ended = append(f.ended, callCID)
	return nil
}

type stubGateway struct{}

func (stubGateway) CreateOrder(_ context.Context, amount float64, currency, receipt string) (paymentdomain.GatewayOrder, error) {
	return paymentdomain.GatewayOrder{ID: "order_stub", Amount: amount, Currency: currency, Receipt: receipt}, nil
}

func (stubGateway) VerifyPayment(string, string, string) bool { return true }

type fixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	orders      consultationdomain.Repository
	wallet      walletdomain.Service
	summary     summarydomain.Service
	video       *fakeVideo
	coordinator billingdomain.Coordinator
	userID      snowflake.ID
	expertID    snowflake.ID
}

var fixtureStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDSN(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
}

// newFileFixture backs the fixture with an on-disk database. BEGIN IMMEDIATE
// plus a busy timeout makes a second concurrent writer block until the first
// commits instead of failing with SQLITE_BUSY, which is what the concurrency
// tests need.
func newFileFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s/billing.db?_txlock=immediate&_pragma=busy_timeout(10000)", t.TempDir())
	return newFixtureWithDSN(t, dsn)
}

func newFixtureWithDSN(t *testing.T, dsn string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&consultationdomain.Order{},
		&consultationdomain.ParticipantInterval{},
		&consultationdomain.ExpertPresence{},
		&walletdomain.Balance{},
		&walletdomain.Transaction{},
		&walletdomain.EarningsBalance{},
		&summarydomain.CallSummary{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(fixtureStart)
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	wallet := walletservice.NewService(walletservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fakeClock,
		Gateway: stubGateway{},
		Billing: holder,
	})
	summary := summaryservice.NewService(summaryservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fakeClock,
		Generator: summaryservice.NewTemplateGenerator(),
	})
	orders := consultationrepo.New()
	video := &fakeVideo{}

	coordinator := NewCoordinator(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fakeClock,
		Orders:  orders,
		Wallet:  wallet,
		Summary: summary,
		Video:   video,
		Billing: holder,
	})

	return &fixture{
		db:          db,
		node:        node,
		clock:       fakeClock,
		orders:      orders,
		wallet:      wallet,
		summary:     summary,
		video:       video,
		coordinator: coordinator,
		userID:      node.Generate(),
		expertID:    node.Generate(),
	}
}

func (f *fixture) fundWallet(t *testing.T, realAmount, bonusAmount float64) {
	t.Helper()
	ctx := context.Background()
	if realAmount > 0 {
		_, err := f.wallet.Credit(ctx, walletdomain.CreditRequest{
			UserID: f.userID.String(), ExpertID: f.expertID.String(),
			Currency: "INR", Type: walletdomain.TransactionTypeRecharge, Amount: realAmount,
		})
		require.NoError(t, err)
	}
	if bonusAmount > 0 {
		_, err := f.wallet.Credit(ctx, walletdomain.CreditRequest{
			UserID: f.userID.String(), ExpertID: f.expertID.String(),
			Currency: "INR", Type: walletdomain.TransactionTypeBonus, Amount: bonusAmount,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) connectedOrder(t *testing.T, maxDuration int64) *consultationdomain.Order {
	t.Helper()
	start := fixtureStart
	order := &consultationdomain.Order{
		ID:                 f.node.Generate(),
		UserID:             f.userID,
		ExpertID:           f.expertID,
		Status:             consultationdomain.OrderStatusConnected,
		ConsultationType:   consultationdomain.ConsultationTypeVideo,
		RatePerMinute:      10,
		Currency:           "INR",
		PlatformFeePercent: 10,
		MaxAllowedDuration: maxDuration,
		StreamCallCID:      "default:" + f.node.Generate().String(),
		BothJoinedAt:       &start,
		StartTime:          &start,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	require.NoError(t, f.db.Create(order).Error)
	require.NoError(t, f.db.Create(&consultationdomain.ExpertPresence{
		ExpertID:  f.expertID,
		Status:    consultationdomain.PresenceBusy,
		UpdatedAt: start,
	}).Error)
	return order
}

func (f *fixture) addInterval(t *testing.T, orderID snowflake.ID, role consultationdomain.ParticipantRole, fromSec, toSec int) {
	t.Helper()
	iv := &consultationdomain.ParticipantInterval{
		ID:       f.node.Generate(),
		OrderID:  orderID,
		Role:     role,
		JoinedAt: fixtureStart.Add(time.Duration(fromSec) * time.Second),
	}
	if toSec >= 0 {
		left := fixtureStart.Add(time.Duration(toSec) * time.Second)
		iv.LeftAt = &left
	}
	require.NoError(t, f.db.Create(iv).Error)
}

func (f *fixture) deductionCount(t *testing.T, orderID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&walletdomain.Transaction{}).
		Where("order_id = ? AND type = ?", orderID, walletdomain.TransactionTypeDeduction).
		Count(&count).Error)
	return count
}

func TestFinalizeChargesOverlapOnly(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1200, 14800)
	order := f.connectedOrder(t, 600)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, 180)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 30, 150)
	f.clock.Advance(200 * time.Second)

	result, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonWebhook)
	require.NoError(t, err)

	assert.True(t, result.Found)
	assert.False(t, result.AlreadyFinalized)
	assert.Equal(t, int64(120), result.BillableSeconds)
	assert.InDelta(t, 20.0, result.Cost, 1e-9)
	// ratio 0.075: effective real 1.50, fee 0.15, earnings 1.35
	assert.InDelta(t, 0.15, result.PlatformFee, 1e-9)
	assert.InDelta(t, 1.35, result.ExpertEarnings, 1e-9)

	var reloaded consultationdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, consultationdomain.OrderStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.EndReason)
	assert.Equal(t, consultationdomain.EndReasonWebhook, *reloaded.EndReason)

	balance, err := f.wallet.GetBalance(context.Background(), f.userID.String(), f.expertID.String(), "INR")
	require.NoError(t, err)
	assert.InDelta(t, 15980.0, balance.TotalBalance, 1e-9)

	assert.Equal(t, []string{order.StreamCallCID}, f.video.ended)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1200, 14800)
	order := f.connectedOrder(t, 600)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, 180)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 30, 150)
	f.clock.Advance(200 * time.Second)

	first, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonWebhook)
	require.NoError(t, err)

	f.clock.Advance(600 * time.Second)
	second, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonAutoTerminate)
	require.NoError(t, err)

	assert.True(t, second.AlreadyFinalized)
	assert.Equal(t, first.BillableSeconds, second.BillableSeconds)
	assert.Equal(t, first.Cost, second.Cost)
	assert.Equal(t, first.PlatformFee, second.PlatformFee)
	assert.Equal(t, first.ExpertEarnings, second.ExpertEarnings)

	// Exactly one deduction despite two finalize calls.
	assert.Equal(t, int64(1), f.deductionCount(t, order.ID))

	// The stored end reason still names the first trigger.
	var reloaded consultationdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	require.NotNil(t, reloaded.EndReason)
	assert.Equal(t, consultationdomain.EndReasonWebhook, *reloaded.EndReason)
}

func TestFinalizeCapsAtAllowedDuration(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1000, 0)
	order := f.connectedOrder(t, 120)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, -1)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 0, -1)
	f.clock.Advance(500 * time.Second)

	result, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonAutoTerminate)
	require.NoError(t, err)

	assert.Equal(t, int64(120), result.BillableSeconds)
	assert.InDelta(t, 20.0, result.Cost, 1e-9)

	var reloaded consultationdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	require.NotNil(t, reloaded.EndReason)
	assert.Equal(t, consultationdomain.EndReasonAutoTerminate, *reloaded.EndReason)
	require.NotNil(t, reloaded.DurationSeconds)
	assert.Equal(t, int64(120), *reloaded.DurationSeconds)
}

func TestFinalizeFallbackWithoutIntervals(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1000, 0)
	order := f.connectedOrder(t, 600)
	f.clock.Advance(300 * time.Second)

	result, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonWebhook)
	require.NoError(t, err)

	assert.Equal(t, int64(300), result.BillableSeconds)
	assert.InDelta(t, 50.0, result.Cost, 1e-9)
}

func TestFinalizeUnknownOrder(t *testing.T) {
	f := newFixture(t)

	result, err := f.coordinator.Finalize(context.Background(), snowflake.ID(999999), billingdomain.ReasonWebhook)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestFinalizeReleasesPresenceAndQueuesSummary(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1000, 0)
	order := f.connectedOrder(t, 600)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, 60)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 0, 60)
	f.clock.Advance(100 * time.Second)

	_, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonWebhook)
	require.NoError(t, err)

	var presence consultationdomain.ExpertPresence
	require.NoError(t, f.db.First(&presence, "expert_id = ?", f.expertID).Error)
	assert.Equal(t, consultationdomain.PresenceFree, presence.Status)

	var queued summarydomain.CallSummary
	require.NoError(t, f.db.First(&queued, "order_id = ?", order.ID).Error)
	assert.Equal(t, summarydomain.SummaryStatusPending, queued.Status)

	processed, err := f.summary.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.NoError(t, f.db.First(&queued, "order_id = ?", order.ID).Error)
	assert.Equal(t, summarydomain.SummaryStatusCompleted, queued.Status)
	assert.NotEmpty(t, queued.Body)
}

func TestFinalizeZeroOverlapChargesNothing(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, 1000, 0)
	order := f.connectedOrder(t, 600)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, 60)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 120, 180)
	f.clock.Advance(300 * time.Second)

	result, err := f.coordinator.Finalize(context.Background(), order.ID, billingdomain.ReasonWebhook)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.BillableSeconds)
	assert.Zero(t, result.Cost)
	assert.Equal(t, int64(0), f.deductionCount(t, order.ID))

	balance, err := f.wallet.GetBalance(context.Background(), f.userID.String(), f.expertID.String(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balance.TotalBalance)
}

func TestFinalizeConcurrentTriggersSingleDeduction(t *testing.T) {
	f := newFileFixture(t)
	f.fundWallet(t, 1200, 14800)
	order := f.connectedOrder(t, 600)
	f.addInterval(t, order.ID, consultationdomain.RoleUser, 0, 180)
	f.addInterval(t, order.ID, consultationdomain.RoleExpert, 30, 150)
	f.clock.Advance(200 * time.Second)

	// Webhook and sweep race for the same order. The row lock and the guarded
	// status update must let exactly one of them move money.
	reasons := []billingdomain.FinalizeReason{
		billingdomain.ReasonWebhook,
		billingdomain.ReasonAutoTerminate,
	}
	results := make([]billingdomain.BillingResult, len(reasons))
	errs := make([]error, len(reasons))

	var wg sync.WaitGroup
	for i := range reasons {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coordinator.Finalize(context.Background(), order.ID, reasons[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, results[0].Found)
	assert.True(t, results[1].Found)
	assert.NotEqual(t, results[0].AlreadyFinalized, results[1].AlreadyFinalized,
		"exactly one trigger should win the terminal transition")

	// Both callers see the same settled numbers.
	assert.Equal(t, results[0].BillableSeconds, results[1].BillableSeconds)
	assert.InDelta(t, results[0].Cost, results[1].Cost, 1e-9)

	assert.Equal(t, int64(1), f.deductionCount(t, order.ID))
	assert.Equal(t, []string{order.StreamCallCID}, f.video.ended)

	var reloaded consultationdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, consultationdomain.OrderStatusCompleted, reloaded.Status)
}
