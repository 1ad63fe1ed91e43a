package gamification

import "go.uber.org/fx"

var Module = fx.Module("gamification",
	fx.Provide(
		NewService,
		NewIdempotency,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
