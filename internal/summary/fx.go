package summary

import (
	"github.com/talktime/talktime/internal/summary/service"
	"go.uber.org/fx"
)

var Module = fx.Module("summary",
	fx.Provide(service.NewTemplateGenerator),
	fx.Provide(service.NewService),
)
