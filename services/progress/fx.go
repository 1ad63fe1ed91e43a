package progress

import "go.uber.org/fx"

var Module = fx.Module("progress.service",
	fx.Provide(NewService),
)
