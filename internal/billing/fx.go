package billing

import (
	"github.com/smallbiznis/stratus/internal/billing/adapters"
	"github.com/smallbiznis/stratus/internal/billing/adapters/dodo"
	"github.com/smallbiznis/stratus/internal/billing/repository"
	"github.com/smallbiznis/stratus/internal/billing/service"
	"github.com/smallbiznis/stratus/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(
		repository.Provide,
		service.NewService,
		newAdapterRegistry,
	),
)

func newAdapterRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(
		dodo.New(cfg.WebhookSecrets[dodo.ProviderName]),
	)
}
