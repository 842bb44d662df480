package sweeper

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(NewLocker),
	fx.Provide(New),
	fx.Invoke(StartSweeper),
)

func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go s.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
