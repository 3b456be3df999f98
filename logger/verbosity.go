package logger

import "go.uber.org/zap/zapcore"

// Verbosity is the count of -v flags. It selects both the zap level and
// which output categories (output.go) the CLI prints.
const (
	VerbosityUser  = 0 // results and errors only
	VerbosityInfo  = 1 // -v: progress, startup, dispatch summaries
	VerbosityDebug = 2 // -vv: timing, effective config, http calls
	VerbosityTrace = 3 // -vvv: per-tick activity, SQL
	VerbosityAll   = 4 // -vvvv: request/response bodies
)

// VerbosityToLevel maps a -v count to a zap level. Everything past -vv
// stays at Debug; the finer levels only widen the category gate.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
