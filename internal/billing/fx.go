package billing

import (
	"github.com/talktime/talktime/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(service.NewCoordinator),
)
