package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. With an empty logPath everything at or
// above level goes to stdout; otherwise info, error and debug lines are split
// into their own files under logPath.
func NewLogger(logPath, level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	if logPath == "" {
		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
		return zap.New(core), nil
	}

	if err := os.MkdirAll(logPath, 0744); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", logPath, err)
	}

	infoOut, err := openLogFile(filepath.Join(logPath, "info.log"))
	if err != nil {
		return nil, err
	}
	errorOut, err := openLogFile(filepath.Join(logPath, "error.log"))
	if err != nil {
		return nil, err
	}
	dbgOut, err := openLogFile(filepath.Join(logPath, "debug.log"))
	if err != nil {
		return nil, err
	}

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl && l >= zapcore.InfoLevel && l < zapcore.ErrorLevel
	})
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lvl && l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lvl && l == zapcore.DebugLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(infoOut), infoLv),
		zapcore.NewCore(encoder, zapcore.AddSync(errorOut), errLv),
		zapcore.NewCore(encoder, zapcore.AddSync(dbgOut), dbgLv),
	)
	return zap.New(tee), nil
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}
