package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/executor"
	"github.com/caffeineduck/hostgate/hostfunc"
)

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// installLogger points every library package at logger.
func installLogger(logger *zap.Logger) {
	zap.ReplaceGlobals(logger)
	bridge.SetLogger(logger.Named("bridge"))
	executor.SetLogger(logger.Named("executor"))
	hostfunc.SetLogger(logger.Named("hostfunc"))
}
