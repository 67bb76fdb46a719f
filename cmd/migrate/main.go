package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/db"
	"loyalty-checkin/pkg/logger"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
	"loyalty-checkin/services/streak"
)

var models = []any{
	&settings.Setting{},
	&checkin.Branch{},
	&checkin.CheckIn{},
	&streak.Record{},
	&issuance.Prize{},
	&issuance.Coupon{},
	&spins.UserSpins{},
}

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
		fx.WithLogger(func(*zap.Logger) fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if err := app.Stop(context.Background()); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] AutoMigrate failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema up to date", zap.Int("tables", len(models)))
	return nil
}
