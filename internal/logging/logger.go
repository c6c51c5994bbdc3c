package logging

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// Logger 日志接收器
type Logger interface {
	Warning(template string, args ...any)
	Error(template string, args ...any)
	Information(template string, args ...any)
	Verbose(template string, args ...any)
}

// Std 基于标准库 log 的实现，输出格式与原有 log.Printf 保持一致
type Std struct {
	prefix  string
	verbose bool
	logger  *log.Logger
}

// NewStd 创建带组件前缀的日志，如 "[部署]"
func NewStd(prefix string, verbose bool) *Std {
	return &Std{prefix: prefix, verbose: verbose, logger: log.Default()}
}

func (l *Std) printf(level, template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	if l.prefix != "" {
		l.logger.Printf("%s %s%s", l.prefix, level, msg)
		return
	}
	l.logger.Printf("%s%s", level, msg)
}

func (l *Std) Warning(template string, args ...any)     { l.printf("警告: ", template, args...) }
func (l *Std) Error(template string, args ...any)       { l.printf("错误: ", template, args...) }
func (l *Std) Information(template string, args ...any) { l.printf("", template, args...) }

func (l *Std) Verbose(template string, args ...any) {
	if l.verbose {
		l.printf("", template, args...)
	}
}

// Slog 基于 log/slog 的实现，守护进程模式下输出结构化日志
type Slog struct {
	logger *slog.Logger
}

// NewSlog 包装 slog.Logger
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

// With 返回附加字段的新日志
func (l *Slog) With(args ...any) *Slog {
	return &Slog{logger: l.logger.With(args...)}
}

func (l *Slog) Warning(template string, args ...any) {
	l.logger.Warn(fmt.Sprintf(template, args...))
}

func (l *Slog) Error(template string, args ...any) {
	l.logger.Error(fmt.Sprintf(template, args...))
}

func (l *Slog) Information(template string, args ...any) {
	l.logger.Info(fmt.Sprintf(template, args...))
}

func (l *Slog) Verbose(template string, args ...any) {
	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		l.logger.Debug(fmt.Sprintf(template, args...))
	}
}

// ParseLevel 解析日志级别，未知值返回 Info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nop struct{}

func (nop) Warning(string, ...any)     {}
func (nop) Error(string, ...any)       {}
func (nop) Information(string, ...any) {}
func (nop) Verbose(string, ...any)     {}

// Nop 丢弃所有日志
var Nop Logger = nop{}
