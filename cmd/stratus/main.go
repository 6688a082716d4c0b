package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/stratus/internal/audit"
	"github.com/smallbiznis/stratus/internal/billing"
	"github.com/smallbiznis/stratus/internal/catalog"
	"github.com/smallbiznis/stratus/internal/clock"
	"github.com/smallbiznis/stratus/internal/config"
	"github.com/smallbiznis/stratus/internal/entitlement"
	"github.com/smallbiznis/stratus/internal/iam"
	"github.com/smallbiznis/stratus/internal/ledger"
	"github.com/smallbiznis/stratus/internal/migration"
	"github.com/smallbiznis/stratus/internal/observability"
	"github.com/smallbiznis/stratus/internal/ratelimit"
	"github.com/smallbiznis/stratus/internal/scheduler"
	"github.com/smallbiznis/stratus/internal/server"
	"github.com/smallbiznis/stratus/internal/tenant"
	"github.com/smallbiznis/stratus/internal/usage"
	"github.com/smallbiznis/stratus/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		tenant.Module,
		ledger.Module,
		usage.Module,
		catalog.Module,
		entitlement.Module,
		billing.Module,
		iam.Module,
		ratelimit.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
