// Package logger - zap logger construction for the commands.
package logger

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger flavour and level.
type Config struct {
	// Development switches to the human friendly console encoder.
	Development bool `koanf:"development" yaml:"development"`
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" yaml:"level"`
}

// New builds a zap logger from cfg and installs it as the zap global.
//
// Arguments:
//   - cfg: The logger configuration.
//
// Returns:
//   - *zap.Logger: The logger. Callers should Sync it before exiting.
//   - error: An error if the level is unknown or the logger cannot be built.
func New(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(l)
	return l, nil
}
