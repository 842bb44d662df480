package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	"github.com/talktime/talktime/internal/consultation/domain"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Wallet  walletdomain.Service
	Video   videodomain.Client
	Billing *config.BillingConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	wallet  walletdomain.Service
	video   videodomain.Client
	billing *config.BillingConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("consultation.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		wallet:  p.Wallet,
		video:   p.Video,
		billing: p.Billing,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		return domain.CreateOrderResponse{}, domain.ErrInvalidUserID
	}
	expertID, err := snowflake.ParseString(strings.TrimSpace(req.ExpertID))
	if err != nil {
		return domain.CreateOrderResponse{}, domain.ErrInvalidExpertID
	}
	if !req.ConsultationType.Valid() {
		return domain.CreateOrderResponse{}, domain.ErrInvalidConsultationType
	}
	if req.RatePerMinute <= 0 {
		return domain.CreateOrderResponse{}, domain.ErrInvalidRate
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return domain.CreateOrderResponse{}, walletdomain.ErrInvalidCurrency
	}

	if err := s.checkExpertAvailable(ctx, expertID); err != nil {
		return domain.CreateOrderResponse{}, err
	}

	// The wallet must cover at least one minute before a room is opened.
	balance, err := s.wallet.GetBalance(ctx, req.UserID, req.ExpertID, currency)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}
	if balance.TotalBalance < req.RatePerMinute {
		return domain.CreateOrderResponse{}, domain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:                 s.genID.Generate(),
		UserID:             userID,
		ExpertID:           expertID,
		Status:             domain.OrderStatusInitiated,
		ConsultationType:   req.ConsultationType,
		RatePerMinute:      req.RatePerMinute,
		Currency:           currency,
		PlatformFeePercent: s.billing.Get().DefaultPlatformFeePercent,
		Metadata:           datatypes.JSONMap(req.Metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	call, callErr := s.video.CreateCall(ctx, videodomain.CreateCallRequest{
		CallType: string(req.ConsultationType),
		OrderID:  order.ID.String(),
		UserID:   req.UserID,
		ExpertID: req.ExpertID,
	})
	if callErr != nil {
		reason := callErr.Error()
		order.Status = domain.OrderStatusFailed
		order.FailureReason = &reason
		if insertErr := s.repo.Insert(ctx, s.db, order); insertErr != nil {
			return domain.CreateOrderResponse{}, insertErr
		}
		s.log.Warn("call setup failed",
			zap.Int64("order_id", int64(order.ID)),
			zap.Error(callErr),
		)
		return domain.CreateOrderResponse{}, domain.ErrCallSetupFailed
	}

	order.StreamCallCID = call.CallCID
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return domain.CreateOrderResponse{}, err
	}

	return domain.CreateOrderResponse{
		OrderID:       order.ID.String(),
		Status:        order.Status,
		StreamCallCID: order.StreamCallCID,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, userID, orderID string) (domain.Order, error) {
	uid, oid, err := parseUserOrder(userID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.FindByID(ctx, s.db, uid, oid)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *order, nil
}

// Heartbeat is advisory only. Billing never depends on it: enforcement is the
// sweep's job, the heartbeat just lets a well-behaved client hang up first.
func (s *Service) Heartbeat(ctx context.Context, req domain.HeartbeatRequest) (domain.HeartbeatResponse, error) {
	uid, oid, err := parseUserOrder(req.UserID, req.OrderID)
	if err != nil {
		return domain.HeartbeatResponse{}, err
	}
	order, err := s.repo.FindByID(ctx, s.db, uid, oid)
	if err != nil {
		return domain.HeartbeatResponse{}, err
	}
	if order == nil {
		return domain.HeartbeatResponse{}, domain.ErrOrderNotFound
	}

	resp := domain.HeartbeatResponse{Status: order.Status}
	switch {
	case order.Status.Terminal() || order.Status == domain.OrderStatusTerminated:
		resp.Advice = domain.AdviceTerminate
		if order.DurationSeconds != nil {
			resp.ElapsedSeconds = *order.DurationSeconds
		}
	case order.Status == domain.OrderStatusConnected && order.StartTime != nil:
		elapsed := int64(s.clock.Now().Sub(*order.StartTime) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := order.MaxAllowedDuration - elapsed
		resp.ElapsedSeconds = elapsed
		if remaining <= 0 {
			resp.Advice = domain.AdviceTerminate
		} else {
			resp.Advice = domain.AdviceContinue
			resp.RemainingSeconds = remaining
		}
	default:
		resp.Advice = domain.AdviceContinue
	}
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, userID, orderID string) error {
	uid, oid, err := parseUserOrder(userID, orderID)
	if err != nil {
		return err
	}

	var callCID string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, oid)
		if err != nil {
			return err
		}
		if order == nil || order.UserID != uid {
			return domain.ErrOrderNotFound
		}
		if order.Status.Terminal() {
			return domain.ErrOrderTerminal
		}
		if order.Status != domain.OrderStatusInitiated {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		updated, err := s.repo.UpdateStatusGuarded(ctx, tx, order.ID, domain.OrderStatusInitiated, domain.OrderStatusCancelled, now)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrInvalidTransition
		}

		endReason := domain.EndReasonCancel
		order.Status = domain.OrderStatusCancelled
		order.EndReason = &endReason
		order.EndTime = &now
		order.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, order); err != nil {
			return err
		}

		callCID = order.StreamCallCID
		return s.releasePresence(ctx, tx, order.ExpertID, order.ID, now)
	})
	if err != nil {
		return err
	}

	if callCID != "" {
		if endErr := s.video.EndCall(ctx, callCID); endErr != nil {
			s.log.Warn("end call failed after cancel",
				zap.Int64("order_id", int64(oid)),
				zap.Error(endErr),
			)
		}
	}
	return nil
}

func (s *Service) RecordJoin(ctx context.Context, callCID, participantID string, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByCallCID(ctx, tx, callCID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.Status.Terminal() {
			return nil
		}

		role, err := roleFor(order, participantID)
		if err != nil {
			return err
		}

		if err := s.repo.AppendInterval(ctx, tx, &domain.ParticipantInterval{
			ID:        s.genID.Generate(),
			OrderID:   order.ID,
			Role:      role,
			JoinedAt:  at,
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}

		switch role {
		case domain.RoleUser:
			if order.UserJoinedAt == nil {
				order.UserJoinedAt = &at
			}
		case domain.RoleExpert:
			if order.ExpertJoinedAt == nil {
				order.ExpertJoinedAt = &at
			}
		}

		if order.UserJoinedAt != nil && order.ExpertJoinedAt != nil &&
			order.Status == domain.OrderStatusInitiated {
			if err := s.connect(ctx, tx, order, at); err != nil {
				return err
			}
		}
		return s.repo.Save(ctx, tx, order)
	})
}

func (s *Service) RecordLeave(ctx context.Context, callCID, participantID string, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByCallCID(ctx, tx, callCID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.Status.Terminal() {
			return nil
		}

		role, err := roleFor(order, participantID)
		if err != nil {
			return err
		}
		_, err = s.repo.CloseOpenInterval(ctx, tx, order.ID, role, at)
		return err
	})
}

func (s *Service) ResolveCallCID(ctx context.Context, callCID string) (snowflake.ID, error) {
	order, err := s.repo.FindByCallCID(ctx, s.db, callCID)
	if err != nil {
		return 0, err
	}
	if order == nil {
		return 0, domain.ErrOrderNotFound
	}
	return order.ID, nil
}

// connect performs the INITIATED -> CONNECTED transition once both sides are
// present: the billing clock starts and the wallet-funded budget is fixed.
func (s *Service) connect(ctx context.Context, tx *gorm.DB, order *domain.Order, at time.Time) error {
	updated, err := s.repo.UpdateStatusGuarded(ctx, tx, order.ID, domain.OrderStatusInitiated, domain.OrderStatusConnected, at)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrInvalidTransition
	}

	balance, err := s.wallet.GetBalance(ctx, order.UserID.String(), order.ExpertID.String(), order.Currency)
	if err != nil {
		return err
	}

	both := maxTime(*order.UserJoinedAt, *order.ExpertJoinedAt)
	order.Status = domain.OrderStatusConnected
	order.BothJoinedAt = &both
	order.StartTime = &both
	order.MaxAllowedDuration = budgetSeconds(balance.TotalBalance, order.RatePerMinute)

	return s.repo.UpsertPresence(ctx, tx, order.ExpertID, domain.PresenceBusy, at)
}

func (s *Service) checkExpertAvailable(ctx context.Context, expertID snowflake.ID) error {
	presence, err := s.repo.GetPresence(ctx, s.db, expertID)
	if err != nil {
		return err
	}
	if presence != nil && !presence.Status.Available() {
		return domain.ErrExpertUnavailable
	}
	active, err := s.repo.CountActiveByExpert(ctx, s.db, expertID, 0)
	if err != nil {
		return err
	}
	if active > 0 {
		return domain.ErrExpertUnavailable
	}
	return nil
}

func (s *Service) releasePresence(ctx context.Context, tx *gorm.DB, expertID, excludeOrder snowflake.ID, now time.Time) error {
	active, err := s.repo.CountActiveByExpert(ctx, tx, expertID, excludeOrder)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}
	return s.repo.UpsertPresence(ctx, tx, expertID, domain.PresenceFree, now)
}

// budgetSeconds converts the wallet balance into whole affordable minutes.
func budgetSeconds(totalBalance, ratePerMinute float64) int64 {
	if ratePerMinute <= 0 || totalBalance <= 0 {
		return 0
	}
	return int64(math.Floor(totalBalance/ratePerMinute)) * 60
}

func roleFor(order *domain.Order, participantID string) (domain.ParticipantRole, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(participantID))
	if err != nil {
		return "", domain.ErrInvalidParticipant
	}
	switch id {
	case order.UserID:
		return domain.RoleUser, nil
	case order.ExpertID:
		return domain.RoleExpert, nil
	default:
		return "", domain.ErrInvalidParticipant
	}
}

func parseUserOrder(userID, orderID string) (snowflake.ID, snowflake.ID, error) {
	uid, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil {
		return 0, 0, domain.ErrInvalidUserID
	}
	oid, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil {
		return 0, 0, domain.ErrInvalidOrderID
	}
	return uid, oid, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
