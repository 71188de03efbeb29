package util

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogOptions struct {
	Level  string // debug / info / warn / error
	Format string // auto / text / json，auto 时终端用 text，否则 json
	File   string // 滚动日志文件，空表示只写 stderr

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger 创建 slog 日志并设为默认；返回的 io.Closer 用于关闭日志文件
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer) {
	writers := []io.Writer{os.Stderr}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			MaxBackups: orDefault(opts.MaxBackups, 3),
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	logger := slog.New(newHandler(io.MultiWriter(writers...), opts))
	slog.SetDefault(logger)
	return logger, closer
}

func newHandler(w io.Writer, opts LogOptions) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	format := strings.ToLower(opts.Format)
	if format == "" || format == "auto" {
		format = "json"
		if opts.File == "" && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.NewTextHandler(w, handlerOpts)
	}
	return slog.NewJSONHandler(w, handlerOpts)
}

// ParseLevel 不认识的级别按 info 处理
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
