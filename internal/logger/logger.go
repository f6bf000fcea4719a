package logger

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// New creates a JSON structured logger and installs it as the slog default.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RequestLogger logs one line per request after it completes, through chi's
// LogFormatter hook.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&requestFormatter{log: log})
}

type requestFormatter struct {
	log *slog.Logger
}

func (f *requestFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestEntry{
		log: f.log.With(
			slog.String("req_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		),
		request: r,
	}
}

type requestEntry struct {
	log     *slog.Logger
	request *http.Request
}

func (e *requestEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.log.LogAttrs(e.request.Context(), slog.LevelInfo, "http request",
		slog.Int("status", status),
		slog.Int("size", bytes),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
}

func (e *requestEntry) Panic(v interface{}, stack []byte) {
	e.log.LogAttrs(e.request.Context(), slog.LevelError, "http request panic",
		slog.Any("panic", v),
		slog.String("stack", string(stack)),
	)
}
