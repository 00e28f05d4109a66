package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 将配置中的日志级别字符串转换为 slog.Level，未知值按 info 处理。
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

// NewDefault 创建输出到 stdout 的 JSON 日志记录器。
func NewDefault(level string) *slog.Logger {
	return New(os.Stdout, level, "json")
}

// New 创建日志记录器。format 为 "text" 时使用文本格式（本地开发），否则使用 JSON。
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ForEnv 根据运行环境选择格式：local 使用文本，其它环境使用 JSON。
func ForEnv(env string, level string) *slog.Logger {
	if strings.EqualFold(env, "local") {
		return New(os.Stdout, level, "text")
	}
	return NewDefault(level)
}

// Discard 返回丢弃所有输出的日志记录器，供测试使用。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
