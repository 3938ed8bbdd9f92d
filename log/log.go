package log

import (
	"sync/atomic"

	"github.com/hatlonely/esmap/log/logger"
)

type Options = logger.SLogOptions

var defaultLogger atomic.Pointer[logger.Logger]

func init() {
	// 默认向 stderr 输出 text 格式的 info 日志
	l, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
		Target: "stderr",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	SetDefault(l)
}

func Default() logger.Logger {
	return *defaultLogger.Load()
}

// SetDefault 替换包级默认日志器
func SetDefault(l logger.Logger) {
	defaultLogger.Store(&l)
}

// New 按配置创建日志器，options 为 nil 时返回默认日志器
func New(options *Options) (logger.Logger, error) {
	if options == nil {
		return Default(), nil
	}
	return logger.NewSLogWithOptions(options)
}
