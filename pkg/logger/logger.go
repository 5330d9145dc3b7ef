// Package logger builds the zap-backed logr.Logger used throughout AutoCrane.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dominodatalab/autocrane/pkg/config"
)

var (
	consoleEncoder zapcore.Encoder
	jsonEncoder    zapcore.Encoder
)

// New builds a logr.Logger from cfg.
func New(cfg config.Logging) (logr.Logger, error) {
	var encoder zapcore.Encoder
	enc := strings.ToLower(cfg.Encoder)

	if enc == "" || enc == "console" {
		encoder = consoleEncoder
	} else if enc == "json" {
		encoder = jsonEncoder
	} else {
		return logr.Logger{}, fmt.Errorf("%q is an invalid encoder", enc)
	}

	ll, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}

	core := zapcore.NewCore(&ctrlzap.KubeAwareEncoder{Encoder: encoder}, zapcore.Lock(os.Stdout), ll)

	opts := []zap.Option{
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	}
	log := zap.New(core, opts...)

	return zapr.NewLogger(log), nil
}

func parseLevel(name string) (zapcore.LevelEnabler, error) {
	if name == "" {
		name = "info"
	}

	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("%q is an invalid log level: %w", name, err)
	}

	return lvl, nil
}

func init() {
	humanCfg := zap.NewDevelopmentEncoderConfig()
	machineCfg := zap.NewProductionEncoderConfig()

	humanCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	machineCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	consoleEncoder = zapcore.NewConsoleEncoder(humanCfg)
	jsonEncoder = zapcore.NewJSONEncoder(machineCfg)
}
