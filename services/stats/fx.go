package stats

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("stats.service",
	fx.Provide(NewService),
)

var TaskModule = fx.Module("task.stats",
	fx.Provide(NewTask, NewScheduler),
	fx.Invoke(
		func(mux *asynq.ServeMux, t *Task) { t.Register(mux) },
		StartScheduler,
	),
)
