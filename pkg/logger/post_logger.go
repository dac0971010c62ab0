// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog levels so callers don't need to import zerolog for setup.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
	LevelFatal = zerolog.FatalLevel
)

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Config for logger
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
	// Pretty switches to zerolog's console writer (local development).
	Pretty bool
}

var (
	root zerolog.Logger
	once sync.Once
)

// Init initializes the root logger. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		root = build(cfg)
	})
}

func build(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	if cfg.Service == "" {
		cfg.Service = "post_worker"
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(out).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
}

// Get returns the root logger, initializing it with defaults if needed.
func Get() *zerolog.Logger {
	Init(Config{Level: LevelInfo})
	return &root
}

// Named returns a child logger tagged with a component name.
func Named(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// New builds a standalone logger, mainly for tests that capture output.
func New(cfg Config) zerolog.Logger {
	return build(cfg)
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Package-level printf helpers using the root logger
func Debug(msg string, args ...any) { Get().Debug().Msgf(msg, args...) }
func Info(msg string, args ...any)  { Get().Info().Msgf(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn().Msgf(msg, args...) }
func Error(msg string, args ...any) { Get().Error().Msgf(msg, args...) }
func Fatal(msg string, args ...any) { Get().Fatal().Msgf(msg, args...) }
