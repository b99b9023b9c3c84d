package prefs

import (
	"fmt"
	"log"
	"strings"
)

// LogLevel selects how much the facade reports. Levels are cumulative.
type LogLevel int

const (
	// LogDisabled reports nothing.
	LogDisabled LogLevel = iota
	// LogErrors reports transform, parse and store errors and registration warnings.
	LogErrors
	// LogValues additionally reports every key and value read or written.
	LogValues
	// LogVerbose additionally reports registry, build and rotation steps.
	LogVerbose
)

func (l LogLevel) String() string {
	switch l {
	case LogDisabled:
		return "disabled"
	case LogErrors:
		return "errors"
	case LogValues:
		return "values"
	case LogVerbose:
		return "verbose"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel parses the names returned by LogLevel.String. Empty input is LogDisabled.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "none", "off":
		return LogDisabled, nil
	case "errors", "error":
		return LogErrors, nil
	case "values":
		return LogValues, nil
	case "verbose", "debug":
		return LogVerbose, nil
	}
	return LogDisabled, fmt.Errorf("unknown log level %q", s)
}

type logger struct {
	level LogLevel
	out   *log.Logger
}

func (l *logger) errorf(format string, args ...any) {
	if l.level >= LogErrors {
		l.out.Printf("E "+format, args...)
	}
}

func (l *logger) valuef(format string, args ...any) {
	if l.level >= LogValues {
		l.out.Printf("D "+format, args...)
	}
}

func (l *logger) verbosef(format string, args ...any) {
	if l.level >= LogVerbose {
		l.out.Printf("V "+format, args...)
	}
}
