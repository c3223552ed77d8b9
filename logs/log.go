package logs

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 定义日志级别常量（数值越大，级别越高）
const (
	LevelTrace   = iota // 0（最低，最详细）
	LevelDebug          // 1
	LevelVerbose        // 2
	LevelInfo           // 3
	LevelWarning        // 4
	LevelError          // 5（最高，最严重）
)

var logLevel atomic.Int32

// 全局 zap 实例，Trace/Debug/Verbose 都落在 zap 的 Debug 级别，过滤由 logLevel 决定
var base atomic.Pointer[zap.SugaredLogger]

func init() {
	logLevel.Store(LevelInfo)

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Sampling = nil
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		l = zap.NewNop()
	}
	base.Store(l.Sugar())
}

// SetLevel 设置全局日志级别
func SetLevel(level int) {
	if level < LevelTrace {
		level = LevelTrace
	}
	if level > LevelError {
		level = LevelError
	}
	logLevel.Store(int32(level))
}

// GetLevel 返回当前全局日志级别
func GetLevel() int {
	return int(logLevel.Load())
}

// ParseLevel 解析配置中的级别名称
func ParseLevel(name string) (int, error) {
	switch name {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "verbose":
		return LevelVerbose, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// SetZapLogger 替换底层 zap 实例（测试时可接 observer）
func SetZapLogger(l *zap.Logger) {
	base.Store(l.WithOptions(zap.AddCallerSkip(2)).Sugar())
}

// Sync 刷新缓冲
func Sync() error {
	return base.Load().Sync()
}

func emit(level int, prefix, format string, v ...interface{}) {
	if int(logLevel.Load()) > level {
		return
	}
	msg := prefix + fmt.Sprintf(format, v...)
	s := base.Load()
	switch level {
	case LevelTrace, LevelDebug, LevelVerbose:
		s.Debug(msg)
	case LevelInfo:
		s.Info(msg)
	case LevelWarning:
		s.Warn(msg)
	default:
		s.Error(msg)
	}
}

// 包级别的日志方法
func Trace(format string, v ...interface{})   { emit(LevelTrace, "", format, v...) }
func Debug(format string, v ...interface{})   { emit(LevelDebug, "", format, v...) }
func Verbose(format string, v ...interface{}) { emit(LevelVerbose, "", format, v...) }
func Info(format string, v ...interface{})    { emit(LevelInfo, "", format, v...) }
func Warn(format string, v ...interface{})    { emit(LevelWarning, "", format, v...) }
func Error(format string, v ...interface{})   { emit(LevelError, "", format, v...) }

// ============================================
// 组件日志
// ============================================

// Logger 可注入的日志接口
type Logger interface {
	Trace(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Verbose(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

type componentLogger struct {
	prefix string
}

// NewLogger 创建带 [Component] 前缀的日志器
func NewLogger(component string) Logger {
	return &componentLogger{prefix: "[" + component + "] "}
}

func (l *componentLogger) Trace(format string, v ...interface{}) {
	emit(LevelTrace, l.prefix, format, v...)
}
func (l *componentLogger) Debug(format string, v ...interface{}) {
	emit(LevelDebug, l.prefix, format, v...)
}
func (l *componentLogger) Verbose(format string, v ...interface{}) {
	emit(LevelVerbose, l.prefix, format, v...)
}
func (l *componentLogger) Info(format string, v ...interface{}) {
	emit(LevelInfo, l.prefix, format, v...)
}
func (l *componentLogger) Warn(format string, v ...interface{}) {
	emit(LevelWarning, l.prefix, format, v...)
}
func (l *componentLogger) Error(format string, v ...interface{}) {
	emit(LevelError, l.prefix, format, v...)
}

type nopLogger struct{}

// Nop 丢弃所有输出
func Nop() Logger { return nopLogger{} }

func (nopLogger) Trace(string, ...interface{})   {}
func (nopLogger) Debug(string, ...interface{})   {}
func (nopLogger) Verbose(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})    {}
func (nopLogger) Warn(string, ...interface{})    {}
func (nopLogger) Error(string, ...interface{})   {}
