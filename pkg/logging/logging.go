// Package logging builds the process logger: human-readable console output
// plus a size-rotated JSON file under the configured log directory.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction. Zero values mean console-only at
// info level.
type Config struct {
	// Dir is the log directory. Empty disables the file sink.
	Dir string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// MaxSizeMB and MaxBackups bound the rotated file set.
	MaxSizeMB  int
	MaxBackups int
}

// New builds the logger. The file sink is best-effort: if the directory
// cannot be created the console core still works.
func New(cfg Config) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = 1
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = 5
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "torntrainer.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores,
			zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
