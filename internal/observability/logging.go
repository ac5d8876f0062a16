// Package observability provides shared zap loggers for the CLI and server
// paths.
//
// Two loggers are exposed: CLILogger writes human-oriented console output for
// command invocations, ServerLogger writes structured JSON for the long-running
// serve/worker processes. Both default to info level until Init is called with
// the loaded configuration.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// CLILogger is used by cobra command bodies.
	CLILogger *zap.Logger

	// ServerLogger is used by the HTTP server, dispatcher, and pipelines.
	ServerLogger *zap.Logger
)

func init() {
	CLILogger = newConsoleLogger(zapcore.InfoLevel)
	ServerLogger = newJSONLogger(zapcore.InfoLevel)
}

// Init reconfigures both loggers from a level string ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func Init(level string) {
	lvl := parseLevel(level)
	CLILogger = newConsoleLogger(lvl)
	ServerLogger = newJSONLogger(lvl)
}

// Sync flushes buffered log entries. Safe to call on process exit.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newConsoleLogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

func newJSONLogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller())
}
