package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/freshfold/freshfold/internal/clock"
	"github.com/freshfold/freshfold/internal/config"
	"github.com/freshfold/freshfold/internal/logger"
	"github.com/freshfold/freshfold/internal/migration"
	"github.com/freshfold/freshfold/internal/server"
	"github.com/freshfold/freshfold/internal/uow"
	"github.com/freshfold/freshfold/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		uow.Module,
		migration.Module,
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
