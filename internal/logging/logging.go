package logging

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// New builds the service logger. format is "json" or "console"; an unknown
// level falls back to info.
func New(level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "catalog-admin-api").
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// GormLogger routes gorm's logs through zerolog.
type GormLogger struct {
	logger        zerolog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger maps the zerolog level onto gorm's: debug shows every
// query, info and warn show slow queries and errors, anything above only errors.
func NewGormLogger(l zerolog.Logger) *GormLogger {
	level := gormlogger.Warn
	switch {
	case l.GetLevel() <= zerolog.DebugLevel:
		level = gormlogger.Info
	case l.GetLevel() >= zerolog.ErrorLevel:
		level = gormlogger.Error
	}
	return &GormLogger{
		logger:        Component(l, "gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.logger.Info().Msgf(msg, args...)
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.logger.Warn().Msgf(msg, args...)
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.logger.Error().Msgf(msg, args...)
	}
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.logger.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.logger.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.logger.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
