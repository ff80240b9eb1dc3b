package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/allocation"
	"github.com/smallbiznis/flowgate/internal/audit"
	"github.com/smallbiznis/flowgate/internal/breaker"
	"github.com/smallbiznis/flowgate/internal/clock"
	"github.com/smallbiznis/flowgate/internal/config"
	"github.com/smallbiznis/flowgate/internal/lock"
	"github.com/smallbiznis/flowgate/internal/meter"
	"github.com/smallbiznis/flowgate/internal/observability/metrics"
	"github.com/smallbiznis/flowgate/internal/server"
	"github.com/smallbiznis/flowgate/internal/tenant"
	"github.com/smallbiznis/flowgate/internal/wallet"
	"github.com/smallbiznis/flowgate/pkg/db"
	"github.com/smallbiznis/flowgate/pkg/log"
	"github.com/smallbiznis/flowgate/pkg/redisconn"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redisconn.Module,
		clock.Module,
		metrics.Module,

		// Governance domains
		tenant.Module,
		audit.Module,
		lock.Module,
		allocation.Module,
		wallet.Module,
		meter.Module,
		breaker.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
