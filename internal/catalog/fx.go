package catalog

import (
	"github.com/smallbiznis/stratus/internal/catalog/repository"
	"github.com/smallbiznis/stratus/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
