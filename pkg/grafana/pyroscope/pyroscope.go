package pyroscope

import (
	"context"

	"ecoquest/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvidePyroscope = fx.Module("pyroscope",
	fx.Invoke(Start),
)

func NewConfig(cfg *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.Pyroscope.Addr,
		Tags:            map[string]string{"env": cfg.AppEnv, "version": cfg.AppVersion},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileBlockCount,
		},
	}
}

// Start runs continuous profiling when PYROSCOPE.ADDR is set.
func Start(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Pyroscope.Addr == "" {
		return nil
	}

	profiler, err := pyroscope.Start(NewConfig(cfg))
	if err != nil {
		return err
	}
	zap.L().Info("[Pyroscope] profiling enabled", zap.String("addr", cfg.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
