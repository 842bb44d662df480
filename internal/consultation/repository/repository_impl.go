package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/talktime/talktime/internal/consultation/domain"
	"github.com/talktime/talktime/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func New() domain.Repository {
	return &repository{}
}

var Module = fx.Module("consultation.repository",
	fx.Provide(New),
)

func (r *repository) Insert(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	return conn.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, conn *gorm.DB, userID, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	tx := conn.WithContext(ctx)
	if db.SupportsSkipLocked(conn) {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := tx.Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCallCID(ctx context.Context, conn *gorm.DB, callCID string) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).
		Where("stream_call_cid = ?", callCID).
		Order("created_at DESC").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatusGuarded(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE consultation_orders
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Save(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	return conn.WithContext(ctx).Save(order).Error
}

func (r *repository) AppendInterval(ctx context.Context, conn *gorm.DB, interval *domain.ParticipantInterval) error {
	return conn.WithContext(ctx).Create(interval).Error
}

func (r *repository) CloseOpenInterval(ctx context.Context, conn *gorm.DB, orderID snowflake.ID, role domain.ParticipantRole, leftAt time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE participant_intervals
		 SET left_at = ?
		 WHERE order_id = ? AND role = ? AND left_at IS NULL`,
		leftAt, orderID, role,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListIntervals(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) ([]domain.ParticipantInterval, error) {
	var intervals []domain.ParticipantInterval
	err := conn.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("joined_at ASC, id ASC").
		Find(&intervals).Error
	if err != nil {
		return nil, err
	}
	return intervals, nil
}

// ClaimConnectedExceeding picks orders past their budget plus grace. It also
// returns TERMINATED orders matching the predicate so a finalize that failed
// after the mark is retried on the next run.
func (r *repository) ClaimConnectedExceeding(ctx context.Context, conn *gorm.DB, now time.Time, grace time.Duration, limit int) ([]domain.Order, error) {
	cutoff := now.Add(-grace)
	query := `SELECT * FROM consultation_orders
	 WHERE status IN (?, ?)
	   AND start_time IS NOT NULL
	   AND start_time <= ? - (max_allowed_duration * interval '1 second')
	 ORDER BY start_time ASC
	 LIMIT ?`
	args := []any{domain.OrderStatusConnected, domain.OrderStatusTerminated, cutoff, limit}
	if !isPostgres(conn) {
		// Portable variant: compare elapsed seconds in Go-computed cutoff.
		// SQLite and MySQL lack the interval multiplication above.
		return r.claimConnectedExceedingPortable(ctx, conn, now, grace, limit)
	}
	query += " FOR UPDATE SKIP LOCKED"

	var orders []domain.Order
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) claimConnectedExceedingPortable(ctx context.Context, conn *gorm.DB, now time.Time, grace time.Duration, limit int) ([]domain.Order, error) {
	var candidates []domain.Order
	err := conn.WithContext(ctx).
		Where("status IN (?, ?) AND start_time IS NOT NULL",
			domain.OrderStatusConnected, domain.OrderStatusTerminated).
		Order("start_time ASC").
		Limit(limit * 4).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	var orders []domain.Order
	for _, order := range candidates {
		budget := time.Duration(order.MaxAllowedDuration) * time.Second
		if now.Sub(*order.StartTime) >= budget+grace {
			orders = append(orders, order)
			if len(orders) >= limit {
				break
			}
		}
	}
	return orders, nil
}

func (r *repository) ClaimInitiatedStale(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT * FROM consultation_orders
	 WHERE status = ? AND created_at <= ?
	 ORDER BY created_at ASC
	 LIMIT ?`
	if db.SupportsSkipLocked(conn) {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var orders []domain.Order
	err := conn.WithContext(ctx).Raw(query, domain.OrderStatusInitiated, cutoff, limit).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CountActiveByExpert(ctx context.Context, conn *gorm.DB, expertID snowflake.ID, excludeOrder snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Model(&domain.Order{}).
		Where("expert_id = ? AND id <> ? AND status IN (?, ?)",
			expertID, excludeOrder,
			domain.OrderStatusInitiated, domain.OrderStatusConnected).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) GetPresence(ctx context.Context, conn *gorm.DB, expertID snowflake.ID) (*domain.ExpertPresence, error) {
	var presence domain.ExpertPresence
	err := conn.WithContext(ctx).Where("expert_id = ?", expertID).First(&presence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &presence, nil
}

func (r *repository) UpsertPresence(ctx context.Context, conn *gorm.DB, expertID snowflake.ID, status domain.PresenceStatus, now time.Time) error {
	return conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "expert_id"}},
		DoUpdates: clause.Assignments(map[string]any{"status": status, "updated_at": now}),
	}).Create(&domain.ExpertPresence{
		ExpertID:  expertID,
		Status:    status,
		UpdatedAt: now,
	}).Error
}

func isPostgres(conn *gorm.DB) bool {
	return conn.Dialector.Name() == "postgres"
}
