// Package logger provides structured logging for atomkv
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with atomkv-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "atomkv").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// WithSession returns a logger carrying sessionID on every subsequent
// line, so log output from concurrent readers/writers against the
// same open DB can be correlated.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("session_id", sessionID).Logger()}
}

// DbLogger returns a logger for a named engine component (pager, wal,
// btree, txn, recovery).
func (l *Logger) DbLogger(component string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", component).
			Logger(),
	}
}

// LogTxCommit logs a completed write transaction.
func (l *Logger) LogTxCommit(txid uint64, duration time.Duration) {
	l.zlog.Info().
		Str("event", "commit").
		Uint64("txid", txid).
		Dur("duration_ms", duration).
		Msg("transaction committed")
}

// LogTxRollback logs an abandoned write transaction.
func (l *Logger) LogTxRollback(txid uint64, reason error) {
	event := l.zlog.Warn().
		Str("event", "rollback").
		Uint64("txid", txid)
	if reason != nil {
		event = event.Err(reason)
	}
	event.Msg("transaction rolled back")
}

// LogRecovery logs the outcome of a crash-recovery pass on Open.
func (l *Logger) LogRecovery(replayed int, lastPersistedLSN uint64) {
	l.zlog.Info().
		Str("event", "recover").
		Int("replayed_operations", replayed).
		Uint64("last_persisted_lsn", lastPersistedLSN).
		Msg("WAL recovery complete")
}

// LogOpen logs a successful database open.
func (l *Logger) LogOpen(path string, txid uint64) {
	l.zlog.Info().
		Str("event", "open").
		Str("path", path).
		Uint64("txid", txid).
		Msg("database opened")
}

// LogCacheEvict logs an LRU cache eviction at debug level.
func (l *Logger) LogCacheEvict(pageID uint32) {
	l.zlog.Debug().
		Str("event", "cache_evict").
		Uint32("page_id", pageID).
		Msg("page evicted from cache")
}

// LogWALRotate logs a WAL file rotation.
func (l *Logger) LogWALRotate(fileIndex int) {
	l.zlog.Info().
		Str("event", "wal_rotate").
		Int("file_index", fileIndex).
		Msg("WAL rotated")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
