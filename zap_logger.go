package builddb

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger routes Database logging to zap. Field lists are the alternating
// key-value pairs the Database passes, e.g. "key", build.Key().
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger wraps an application's zap logger
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return NewZapLoggerFromSugar(logger.Sugar())
}

// NewZapLoggerFromSugar wraps an application's sugared zap logger
func NewZapLoggerFromSugar(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// NewProductionZapLogger logs JSON at info level, so connects, type index
// rebuilds, skipped documents and upsert failures are recorded while
// per-query timings are not.
func NewProductionZapLogger() (*ZapLogger, error) {
	return NewZapLoggerAtLevel("info")
}

// NewZapLoggerAtLevel builds the JSON logger Connect uses for
// Config.LogLevel ("debug", "info", "warn", "error"). Every entry carries
// component=builddb; "debug" adds a "query executed" entry per query.
func NewZapLoggerAtLevel(level string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{"component": "builddb"}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// NewDevelopmentZapLogger logs everything in console format, for running
// ad hoc queries against a build database from a terminal.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.logger.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Errorw(msg, fields...) }

// With scopes the logger, typically to one keyspace or bucket when a
// process talks to several build databases.
func (l *ZapLogger) With(fields ...interface{}) *ZapLogger {
	return &ZapLogger{logger: l.logger.With(fields...)}
}

// Sync flushes buffered entries. Call it before the process exits.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
