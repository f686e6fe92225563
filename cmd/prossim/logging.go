package main

import (
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/config"
)

// newLogger builds the process logger. It always writes to stderr so that
// stdout carries nothing but events.
func newLogger(c config.Log) (*zap.Logger, error) {
	lvl, err := c.ZapLevel()
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
