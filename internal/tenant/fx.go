package tenant

import (
	"github.com/smallbiznis/stratus/internal/tenant/event"
	"github.com/smallbiznis/stratus/internal/tenant/repository"
	"github.com/smallbiznis/stratus/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(event.NewBus),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
