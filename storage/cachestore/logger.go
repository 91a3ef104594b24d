package cachestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogger routes GORM's statement log into slog. Failed statements log at
// error, slow ones at warn, the rest at debug when the level allows.
type gormLogger struct {
	logger *slog.Logger
	level  gormlogger.LogLevel
	slow   time.Duration
}

func newGormLogger(logger *slog.Logger, slow time.Duration) gormlogger.Interface {
	return &gormLogger{logger: logger, level: gormlogger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "Cache store statement failed",
			"sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "Slow cache store statement",
			"sql", sql, "rows", rows, "elapsed", elapsed, "threshold", l.slow)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.DebugContext(ctx, "Cache store statement", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
