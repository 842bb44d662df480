package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/talktime/talktime/internal/clock"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Generator summarydomain.Generator
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	generator summarydomain.Generator
}

func NewService(p Params) summarydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("summary.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		generator: p.Generator,
	}
}

func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) error {
	now := s.clock.Now()
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(&summarydomain.CallSummary{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		Status:    summarydomain.SummaryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

func (s *Service) ProcessPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var pending []summarydomain.CallSummary
	if err := s.db.WithContext(ctx).
		Where("status = ?", summarydomain.SummaryStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	var errs error
	for _, item := range pending {
		if err := s.processOne(ctx, item); err != nil {
			errs = errors.Join(errs, fmt.Errorf("summary %d: %w", item.ID, err))
		}
	}
	return len(pending), errs
}

func (s *Service) processOne(ctx context.Context, item summarydomain.CallSummary) error {
	var order consultationdomain.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", item.OrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.markFailed(ctx, item, "order missing")
	}
	if err != nil {
		return err
	}

	body, err := s.generator.Generate(ctx, &order)
	if err != nil {
		item.Attempts++
		if item.Attempts >= summarydomain.MaxAttempts {
			s.log.Warn("summary generation exhausted retries",
				zap.Int64("order_id", int64(item.OrderID)),
				zap.Error(err),
			)
			return s.markFailed(ctx, item, err.Error())
		}
		return s.db.WithContext(ctx).Model(&summarydomain.CallSummary{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{
				"attempts":   item.Attempts,
				"updated_at": s.clock.Now(),
			}).Error
	}

	return s.db.WithContext(ctx).Model(&summarydomain.CallSummary{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":     summarydomain.SummaryStatusCompleted,
			"body":       body,
			"attempts":   item.Attempts + 1,
			"updated_at": s.clock.Now(),
		}).Error
}

func (s *Service) markFailed(ctx context.Context, item summarydomain.CallSummary, reason string) error {
	return s.db.WithContext(ctx).Model(&summarydomain.CallSummary{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":     summarydomain.SummaryStatusFailed,
			"body":       reason,
			"attempts":   item.Attempts + 1,
			"updated_at": s.clock.Now(),
		}).Error
}
