package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates a logger for the given service. Development gets a human
// readable console writer at debug level; everything else emits JSON at
// info level.
func New(serviceName string, environment string) *Logger {
	var output io.Writer = os.Stdout
	level := zerolog.InfoLevel

	if environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Used by tests that do
// not assert on log output.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) with(field, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(field, value).Logger()}
}

// WithRequestID returns a logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithUserID returns a logger with the user ID attached
func (l *Logger) WithUserID(userID string) *Logger {
	return l.with("user_id", userID)
}

// WithTenantID returns a logger with the tenant (clinic) ID attached
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return l.with("tenant_id", tenantID)
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithError returns a logger with the error attached
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With().Err(err).Logger()}
}
