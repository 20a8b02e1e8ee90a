package migration

import (
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/config"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			// Non-postgres targets (sqlite dev mode) get the GORM schema
			// directly; migrate's postgres driver cannot serve them.
			log.Info("applying auto-migration", zap.String("db_type", cfg.DBType))
			return conn.AutoMigrate(
				&balancedomain.UserBalance{},
				&consumptiondomain.ConsumptionRecord{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
