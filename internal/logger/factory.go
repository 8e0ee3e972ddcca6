package logger

import (
	"io"
	"os"
	"strings"
)

// New builds the process logger. format "json" selects the hclog backend,
// anything else the standard-library backend. A nil writer means stderr for
// errors and stdout for everything else.
func New(level, format string, w io.Writer) Logger {
	if ParseLogLevel(level) == LogLevelNone {
		return NoOp()
	}

	if strings.EqualFold(format, "json") {
		if w == nil {
			w = os.Stdout
		}
		return NewHCLogger("oidcsession", level, w)
	}

	if w != nil {
		return NewStandardLogger(level, w, w, w)
	}
	return NewStandardLogger(level, os.Stderr, os.Stdout, os.Stdout)
}
