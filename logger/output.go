package logger

// OutputCategory names a kind of CLI output. Log levels filter by
// severity; categories gate WHAT the command prints, so a quiet run
// still shows results and errors while -vv adds timing and config.
type OutputCategory int

const (
	OutputResults    OutputCategory = iota // task tables, command output
	OutputErrors                           // errors with repair hints
	OutputUserStatus                       // final success/failure line

	OutputProgress // "imported 5/12 tasks"
	OutputStartup  // daemon startup block
	OutputDispatch // per-dispatch delivery summaries

	OutputTiming    // "dispatch took 42ms"
	OutputConfig    // effective config values
	OutputHTTPCalls // outbound HTTP requests
	OutputDBStats   // database size, connection info

	OutputTickTrace  // per-tick due-scan decisions
	OutputSQLQueries // individual SQL statements
	OutputInternalOp // internal flow

	OutputRequestBody
	OutputResponseBody
	OutputDataDump
)

// categoryFloor is the lowest verbosity at which each category prints.
var categoryFloor = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress: VerbosityInfo,
	OutputStartup:  VerbosityInfo,
	OutputDispatch: VerbosityInfo,

	OutputTiming:    VerbosityDebug,
	OutputConfig:    VerbosityDebug,
	OutputHTTPCalls: VerbosityDebug,
	OutputDBStats:   VerbosityDebug,

	OutputTickTrace:  VerbosityTrace,
	OutputSQLQueries: VerbosityTrace,
	OutputInternalOp: VerbosityTrace,

	OutputRequestBody:  VerbosityAll,
	OutputResponseBody: VerbosityAll,
	OutputDataDump:     VerbosityAll,
}

// ShouldOutput reports whether a category prints at the given -v count.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	floor, ok := categoryFloor[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= floor
}
