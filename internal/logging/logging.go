// Package logging builds the structured zap logger for the solve service.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (debug, info, warn, error).
	Level string
	// Format is the output format (json, console).
	Format string
	// Output is the output destination (stdout, stderr, or a file path).
	Output string
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// NewLogger creates a *zap.Logger from the given configuration.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

// openSink returns a write syncer for the given output destination.
func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr", "":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.Lock(file), nil
	}
}
