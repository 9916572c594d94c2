package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "perpengine"

// NewLogger creates a structured logger for one engine component. JSON to
// stdout by default; PERP_LOG_FORMAT=console switches to the human-readable
// writer for local runs. Level via PERP_LOG_LEVEL, production default info.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("PERP_LOG_LEVEL"))

	var out io.Writer = os.Stdout
	if os.Getenv("PERP_LOG_FORMAT") == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	// Timestamps in RFC3339 with nanosecond precision.
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
