package db

import (
	"context"
	"errors"
	"time"

	"ecoquest/pkg/config"
	applog "ecoquest/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// queryLogger sends gorm output to the zap global, tagged with the trace of
// the request that issued the statement.
type queryLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	logSQL        bool
}

func newQueryLogger(cfg *config.Config) *queryLogger {
	l := &queryLogger{
		level:         gormlogger.Info,
		slowThreshold: cfg.Database.SlowQuery,
		logSQL:        true,
	}
	if cfg.AppEnv == "production" {
		l.level = gormlogger.Warn
		l.logSQL = false
	}
	return l
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *queryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		applog.FromContext(ctx).Sugar().Infof(msg, data...)
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		applog.FromContext(ctx).Sugar().Warnf(msg, data...)
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		applog.FromContext(ctx).Sugar().Errorf(msg, data...)
	}
}

// Trace logs failed and slow statements. Missing rows and unique violations
// are part of normal control flow (lookups, idempotent inserts) and are only
// logged with the rest of the SQL.
func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	expected := errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var log func(string, ...zap.Field)
	switch {
	case err != nil && !expected && l.level >= gormlogger.Error:
		log = applog.FromContext(ctx, zap.Error(err)).Error
	case slow && l.level >= gormlogger.Warn:
		log = applog.FromContext(ctx, zap.Duration("threshold", l.slowThreshold)).Warn
	case l.logSQL && l.level >= gormlogger.Info:
		log = applog.FromContext(ctx, zap.NamedError("error", err)).Debug
	default:
		return
	}

	sql, rows := fc()
	msg := "db query"
	if slow {
		msg = "db slow query"
	}
	log(msg,
		zap.String("caller", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)
}
