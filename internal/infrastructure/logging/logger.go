package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
)

// serviceName is attached to every entry.
const serviceName = "tierlist"

// Logger is a slog.Logger carrying service and version attributes. Its
// level can be changed at runtime with SetLevel. Safe for concurrent use.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar
	file  io.Closer // the rotating file when output is "file"
}

// New builds a Logger writing to stdout, stderr or a size-rotated file,
// as JSON or text.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer := destination(cfg)
	l := newWithWriter(w, cfg, version)
	l.file = closer
	return l
}

func destination(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		f := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   cfg.File.Compress,
		}
		return f, f
	default:
		return os.Stdout, nil
	}
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	base := slog.New(h).With("service", serviceName, "version", version)
	return &Logger{Logger: base, level: level}
}

// parseLevel maps debug, info, warn(ing) and error, in any case, to a
// slog level. Anything else is info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetLevel changes the minimum level for this logger and all its children.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// With returns a child logger with extra attributes. It shares the
// parent's level and file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, file: l.file}
}

// Close releases the log file, if any. Close only the root logger.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default is a JSON, info-level stdout logger for use before the
// configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
