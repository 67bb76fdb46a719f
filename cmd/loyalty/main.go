package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	_ "time/tzdata"

	"loyalty-checkin/pkg/auth"
	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/db"
	"loyalty-checkin/pkg/featureflags"
	"loyalty-checkin/pkg/gen"
	"loyalty-checkin/pkg/health"
	"loyalty-checkin/pkg/logger"
	"loyalty-checkin/pkg/otelcol"
	"loyalty-checkin/pkg/profiling"
	"loyalty-checkin/pkg/rabbitmq"
	"loyalty-checkin/pkg/redis"
	"loyalty-checkin/pkg/sequence"
	"loyalty-checkin/pkg/server"
	"loyalty-checkin/pkg/task"
	"loyalty-checkin/services/api"
	"loyalty-checkin/services/backfill"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/notification"
	"loyalty-checkin/services/readmodel"
	"loyalty-checkin/services/realtime"
	"loyalty-checkin/services/roulette"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		otelcol.Module,
		profiling.Module,
		featureflags.Module,
		task.Client,
		task.Server,
		rabbitmq.Module,
		auth.Module,
		health.Module,

		changefeed.Module,
		settings.Module,
		issuance.Module,
		spins.Module,
		checkin.Module,
		roulette.Module,
		readmodel.Module,
		notification.Module,
		realtime.Module,
		backfill.Module,
		api.Module,

		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
