package consultation

import (
	"github.com/talktime/talktime/internal/consultation/repository"
	"github.com/talktime/talktime/internal/consultation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("consultation",
	repository.Module,
	fx.Provide(service.NewService),
)
