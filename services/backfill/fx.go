package backfill

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("backfill",
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(TypeStreakRebuild, t.HandleRebuildTask)
}
