package repository

import (
	"time"

	"github.com/okian/callqa/pkg/logger"
	gormlogger "gorm.io/gorm/logger"
)

// Option applies a configuration option to the SQLStore.
type Option func(*SQLStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *SQLStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithSlowQueryThreshold sets when a query is logged as slow.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(s *SQLStore) {
		if d > 0 {
			s.slowThreshold = d
		}
	}
}

// WithQueryLogLevel sets gorm's query log level: silent, error, warn or info.
func WithQueryLogLevel(level string) Option {
	return func(s *SQLStore) {
		s.logLevel = parseLogLevel(level)
	}
}

// WithLogger sets the logger for the store and its query log. Defaults to
// the global logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
