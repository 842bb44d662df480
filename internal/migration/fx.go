package migration

import (
	"github.com/talktime/talktime/internal/config"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// The SQL migrations target postgres; other dialects are for
			// local development and tests, where the schema is derived from
			// the models.
			return conn.AutoMigrate(
				&consultationdomain.Order{},
				&consultationdomain.ParticipantInterval{},
				&consultationdomain.ExpertPresence{},
				&walletdomain.Balance{},
				&walletdomain.Transaction{},
				&walletdomain.EarningsBalance{},
				&summarydomain.CallSummary{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
