// Package log wraps zerolog with a process-wide logger, context
// helpers and the shared field names.
package log

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the global logger.
type Config struct {
	Level   string `mapstructure:"level"`
	Pretty  bool   `mapstructure:"pretty"`
	Service string `mapstructure:"service"`
}

var (
	global   zerolog.Logger
	initOnce sync.Once
)

func init() {
	// Usable default until Init runs.
	global = New(Config{Level: "info"})
}

// New builds a logger from the config without touching the global one.
func New(cfg Config) zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	ctx := out.Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str(FieldService, cfg.Service)
	}
	return ctx.Logger()
}

// Init configures the global logger. Only the first call wins.
func Init(cfg Config) {
	initOnce.Do(func() {
		global = New(cfg)
	})
}

// L returns the global logger. The pointer keeps level methods
// chainable at call sites.
func L() *zerolog.Logger {
	return &global
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
