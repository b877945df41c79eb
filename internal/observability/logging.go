// Package observability wires structured logging for the CLI.
//
// Diagnostics go to stderr through zap so stdout stays clean for results.
// Verbosity flags raise the level; the quiet flags lower it to errors only
// (human progress output is handled separately by pkg/progress).
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. It is a no-op until Init runs.
var CLILogger = zap.NewNop()

// Init configures CLILogger from the -v and -q flag counts.
//
//	default  warn
//	-v       info
//	-vv      debug
//	-vvv     debug, with caller annotations
//	-q/-qq   error only
func Init(verbosity, quiet int) {
	level := zapcore.WarnLevel
	switch {
	case quiet > 0:
		level = zapcore.ErrorLevel
	case verbosity == 1:
		level = zapcore.InfoLevel
	case verbosity >= 2:
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	opts := []zap.Option{}
	if verbosity >= 3 {
		opts = append(opts, zap.AddCaller())
	}
	CLILogger = zap.New(core, opts...)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = CLILogger.Sync()
}
