package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints
//	1 (-v)      - + progress, startup info, session lifecycle
//	2 (-vv)     - + RTR command text, timing, config loaded, HTTP requests
//	3 (-vvv)    - + pulse heartbeats, process-sweep detail, internal flow
//	4 (-vvvv)   - + full command output, presigned URLs, data dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Per-host collection results
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress      // Progress indicators (e.g., "host 3/10 complete")
	OutputStartup       // Startup banners, config summary
	OutputSessionStatus // RTR session init/close status
	OutputOperationInfo // High-level operation summaries

	// Level 2 (-vv) - Detailed
	OutputCommandText  // RTR command strings issued to the endpoint
	OutputTiming       // Operation timing (e.g., "upload took 42s")
	OutputConfig       // Config values loaded/applied
	OutputHTTPRequests // Outgoing HTTP request URLs and methods
	OutputHTTPStatus   // HTTP response status codes
	OutputUploadStats  // Transfer byte counts, throughput

	// Level 3 (-vvv) - Debug
	OutputCommandStdout // RTR command stdout/stderr
	OutputPulse         // Pulse heartbeat ticks
	OutputProcessSweep  // Process-sweep matches during cleanup
	OutputInternalFlow  // Internal operation flow (function entry/exit)

	// Level 4 (-vvvv) - Full dump
	OutputPollDetail    // Full command-poll responses
	OutputPresignedURLs // Presigned upload/download URLs
	OutputHTTPBody      // Full HTTP request/response bodies
	OutputDataDump      // Full data structure contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress:      VerbosityInfo,
	OutputStartup:       VerbosityInfo,
	OutputSessionStatus: VerbosityInfo,
	OutputOperationInfo: VerbosityInfo,

	OutputCommandText:  VerbosityDebug,
	OutputTiming:       VerbosityDebug,
	OutputConfig:       VerbosityDebug,
	OutputHTTPRequests: VerbosityDebug,
	OutputHTTPStatus:   VerbosityDebug,
	OutputUploadStats:  VerbosityDebug,

	OutputCommandStdout: VerbosityTrace,
	OutputPulse:         VerbosityTrace,
	OutputProcessSweep:  VerbosityTrace,
	OutputInternalFlow:  VerbosityTrace,

	OutputPollDetail:    VerbosityAll,
	OutputPresignedURLs: VerbosityAll,
	OutputHTTPBody:      VerbosityAll,
	OutputDataDump:      VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// categoryNames provides human-readable names for output categories
var categoryNames = map[OutputCategory]string{
	OutputResults:       "results",
	OutputErrors:        "errors",
	OutputUserStatus:    "status",
	OutputProgress:      "progress",
	OutputStartup:       "startup",
	OutputSessionStatus: "session-status",
	OutputOperationInfo: "operation-info",
	OutputCommandText:   "command-text",
	OutputTiming:        "timing",
	OutputConfig:        "config",
	OutputHTTPRequests:  "http-requests",
	OutputHTTPStatus:    "http-status",
	OutputUploadStats:   "upload-stats",
	OutputCommandStdout: "command-stdout",
	OutputPulse:         "pulse",
	OutputProcessSweep:  "process-sweep",
	OutputInternalFlow:  "internal-flow",
	OutputPollDetail:    "poll-detail",
	OutputPresignedURLs: "presigned-urls",
	OutputHTTPBody:      "http-body",
	OutputDataDump:      "data-dump",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, progress, session status"
	case VerbosityDebug:
		return "above + command text, timing, config"
	case VerbosityTrace:
		return "above + command stdout, pulse ticks, process sweep"
	case VerbosityAll:
		return "above + poll detail, presigned URLs, full bodies"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}

// ShouldShowCommandText returns true if RTR command strings should be displayed
func ShouldShowCommandText(verbosity int) bool {
	return ShouldOutput(verbosity, OutputCommandText)
}

// ShouldShowCommandStdout returns true if remote command stdout/stderr should be forwarded
func ShouldShowCommandStdout(verbosity int) bool {
	return ShouldOutput(verbosity, OutputCommandStdout)
}

// ShouldShowPulse returns true if pulse heartbeat ticks should be logged
func ShouldShowPulse(verbosity int) bool {
	return ShouldOutput(verbosity, OutputPulse)
}

// SlowThresholdMS is the threshold in milliseconds above which timing is always shown
const SlowThresholdMS = 250

// ShouldShowTiming returns true if timing info should be displayed.
// Shows if: verbosity >= 2 (-vv) OR operation exceeded slow threshold.
func ShouldShowTiming(verbosity int, durationMS int64) bool {
	if durationMS >= SlowThresholdMS {
		return true
	}
	return ShouldOutput(verbosity, OutputTiming)
}

// ShouldShowTimingAlways returns true if timing should always be shown (slow operation)
func ShouldShowTimingAlways(durationMS int64) bool {
	return durationMS >= SlowThresholdMS
}
