// Package logger 定义组件共用的日志接口
package logger

import (
	"context"
	"log/slog"
)

// Logger 映射编译告警和 Elasticsearch 请求日志都通过它输出
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// Enabled 级别未开启时调用方可以跳过组装参数
	Enabled(ctx context.Context, level slog.Level) bool

	With(args ...any) Logger
	WithGroup(name string) Logger
}
