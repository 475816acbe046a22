package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		ReplaceAttr: redactor(),
	})))
}

type ctxLoggerKey struct{}

// Default returns the process-wide logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger *slog.Logger) {
	if logger == nil {
		return
	}
	defaultLogger.Store(logger)
}

// With returns a copy of ctx carrying logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// From returns the logger carried by ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Default()
}

// Configure builds a logger for the given level and format and installs it as default.
// Supported formats: console (colored, human oriented), text, json.
func Configure(level, format string, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(lvl),
			clog.WithColor(isTerminal(w)),
			clog.WithReplaceAttr(redactor()),
		)
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: redactor()})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: redactor()})
	default:
		return nil, goerr.New("unsupported log format", goerr.V("format", format))
	}

	logger := slog.New(handler)
	SetDefault(logger)
	return logger, nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, goerr.New("unsupported log level", goerr.V("level", level))
	}
}

// redactor masks credentials and raw user text before they reach any sink.
// User text is logged only as length and hash elsewhere; these keys are a backstop.
func redactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("api_key"),
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("OpenAIAPIKey"),
		masq.WithFieldName("AnthropicAPIKey"),
		masq.WithFieldName("DevKey"),
		masq.WithFieldName("dev_key"),
		masq.WithFieldName("DatabaseURL"),
		masq.WithFieldName("database_url"),
		masq.WithFieldName("user_message"),
		masq.WithFieldName("prompt"),
		masq.WithTag("secret"),
	)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
