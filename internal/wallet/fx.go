package wallet

import (
	"github.com/talktime/talktime/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet",
	fx.Provide(service.NewService),
)
