package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aitime/internal/balance"
	"github.com/smallbiznis/aitime/internal/clock"
	"github.com/smallbiznis/aitime/internal/config"
	"github.com/smallbiznis/aitime/internal/consumption"
	"github.com/smallbiznis/aitime/internal/estimator"
	"github.com/smallbiznis/aitime/internal/lock"
	"github.com/smallbiznis/aitime/internal/logger"
	"github.com/smallbiznis/aitime/internal/migration"
	"github.com/smallbiznis/aitime/internal/observability"
	"github.com/smallbiznis/aitime/internal/scheduler"
	"github.com/smallbiznis/aitime/internal/server"
	"github.com/smallbiznis/aitime/internal/tracking"
	"github.com/smallbiznis/aitime/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		// Functional Domains
		balance.Module,
		estimator.Module,
		consumption.Module,
		tracking.Module,
		scheduler.Module,
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
