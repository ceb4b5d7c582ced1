// Package logging wires the process-wide structured logger. It mirrors
// the compatibility-shim shape of luxfi-evm's log/compat.go (a thin
// re-export over an slog-backed handler) but targets
// github.com/ethereum/go-ethereum/log directly rather than a forked
// geth, and adds the dual console+file sink the source's logger.py
// configures.
package logging

import (
	"io"
	"log/slog"
	"os"

	ethlog "github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface every component logs through: an alias of
// ethlog.Logger itself.
type Logger = ethlog.Logger

// Config controls where and how verbosely the root logger writes.
type Config struct {
	Level string // LOG_LEVEL: trace|debug|info|warn|error|crit
	File  string // LOG_FILE: rotating file sink path; empty disables it
}

// New builds the root logger per Config and installs it as the default
// so every package-level ethlog.Info/Warn/Error call (and every logger
// handed out by New) shares one sink configuration.
func New(cfg Config) (Logger, error) {
	level, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	var writer io.Writer = os.Stdout
	if cfg.File != "" {
		writer = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handler := ethlog.NewTerminalHandlerWithLevel(writer, level, false)
	logger := ethlog.NewLogger(handler)
	ethlog.SetDefault(logger)
	return logger, nil
}

func levelFromString(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	return ethlog.LvlFromString(s)
}
