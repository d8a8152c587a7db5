package zerohack

import (
	"os"
	"strings"

	"github.com/oarkflow/log"
)

// newLogger builds the structured logger shared by every engine component.
// Unknown level strings fall back to info.
func newLogger(level string) *log.Logger {
	return &log.Logger{
		Level:      parseLogLevel(level),
		TimeFormat: "2006-01-02 15:04:05.000",
		Writer: &log.ConsoleWriter{
			ColorOutput:    log.IsTerminal(os.Stderr.Fd()),
			EndWithMessage: true,
		},
	}
}

func parseLogLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
