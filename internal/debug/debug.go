// Package debug is a leveled diagnostic logger for the drive tooling.
// Level 0 is silent; higher levels add sequence summaries, live
// progress, compiled command listings, and raw serial traffic.
package debug

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (sequence summary, drive state)
	LevelLive    = 2 // Live info (programs stored, runs started)
	LevelVerbose = 3 // Verbose (compiled commands, timing details)
	LevelTrace   = 4 // Trace (serial traffic, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[gmdrive] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// printf is the single output path: a message is printed when the
// current level reaches minLevel.
func printf(minLevel int, tag, format string, args ...interface{}) {
	if level >= minLevel && logger != nil {
		logger.Printf(tag+" "+format, args...)
	}
}

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO]", format, args...)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]", "  %s = %v", name, value)
}

// Sequence prints a one-line sequence summary (level 1).
func Sequence(blocks, moves int, seconds float64) {
	printf(LevelInfo, "[INFO]", "Sequence: %d blocks, %d moves, estimated %.3f s", blocks, moves, seconds)
}

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE]", format, args...)
}

// Run prints the start of a stored program or profile run (level 2).
func Run(name string, timeoutSeconds float64) {
	printf(LevelLive, "[LIVE]", "Running %s (timeout: %.3f s)", name, timeoutSeconds)
}

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE]", format, args...)
}

// Commands prints a compiled command list, one numbered line per
// command (level 3).
func Commands(name string, commands []string) {
	printf(LevelVerbose, "[VERBOSE]", "%s: %d commands", name, len(commands))
	for i, c := range commands {
		printf(LevelVerbose, "[VERBOSE]", "  %3d  %s", i, c)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	printf(LevelVerbose, "[VERBOSE]", "━━━ %s ━━━", name)
}

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE]", format, args...)
}

// Exchange prints one command/response round trip on the serial line
// (level 4). The raw response is quoted so control characters show.
func Exchange(sent, raw string) {
	printf(LevelTrace, "[SERIAL]", "sent=%s recv=%s", strconv.Quote(sent), strconv.Quote(raw))
}

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR]", "%v", err)
}

// Fmt returns a formatted string only when debug output is enabled,
// so callers can skip the formatting cost otherwise.
func Fmt(format string, args ...interface{}) string {
	if level > LevelOff {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
