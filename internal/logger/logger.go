package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the default logger.
type Options struct {
	Level  string    // trace, debug, info, warn, error
	Format string    // json or console
	Output io.Writer // defaults to os.Stdout
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	mu            sync.RWMutex
)

// Init initializes the default logger with a JSON writer on os.Stdout at info level.
// It ensures that the logger is initialized only once; use Configure to change it later.
func Init() {
	once.Do(func() {
		configure(Options{})
	})
}

// Configure replaces the default logger. Later calls to Init are no-ops.
func Configure(opts Options) {
	once.Do(func() {})
	configure(opts)
}

func configure(opts Options) {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	out := opts.Output
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: opts.Output, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *zerolog.Logger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	l := defaultLogger
	return &l
}

// Info logs an informational message with key/value pairs.
func Info(msg string, args ...any) {
	Get().Info().Fields(args).Msg(msg)
}

// Warn logs a warning message with key/value pairs.
func Warn(msg string, args ...any) {
	Get().Warn().Fields(args).Msg(msg)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	Get().Error().Err(err).Fields(args).Msg(msg)
}

// Debug logs a debug message with key/value pairs.
func Debug(msg string, args ...any) {
	Get().Debug().Fields(args).Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
