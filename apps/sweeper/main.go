package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/talktime/talktime/internal/billing"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	"github.com/talktime/talktime/internal/consultation"
	"github.com/talktime/talktime/internal/logger"
	"github.com/talktime/talktime/internal/migration"
	"github.com/talktime/talktime/internal/payment"
	"github.com/talktime/talktime/internal/summary"
	"github.com/talktime/talktime/internal/sweeper"
	"github.com/talktime/talktime/internal/video"
	"github.com/talktime/talktime/internal/wallet"
	"github.com/talktime/talktime/pkg/db"
	"go.uber.org/fx"
)

// Standalone sweep worker. The claim queries and the per-order row locks keep
// it safe to run next to the monolith or extra replicas.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		payment.Module,
		video.Module,
		wallet.Module,
		consultation.Module,
		summary.Module,
		billing.Module,
		sweeper.Module,

		// No server module.
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
