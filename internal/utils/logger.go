package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 全局日志器
var Logger = zerolog.Nop()

const (
	MainLogFile  = "iliasdl.log"       // 主日志文件名
	ErrorLogFile = "iliasdl_error.log" // 错误日志文件名
)

// 当前打开的轮转文件, CloseLogger时关闭
var logFiles []*lumberjack.Logger

// LogConfig 日志配置
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	LogDir     string // 默认在下载目录下的 logs/
	MaxSize    int    // 单个日志文件最大大小(MB)
	MaxBackups int
	MaxAge     int // 天
	Compress   bool

	// Console 控制台输出, nil时为标准输出
	Console io.Writer
	NoColor bool
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger 初始化日志系统
// 控制台只显示消息和运行字段; 主日志记录全部级别; 错误日志只记录error及以上
func InitLogger(config LogConfig) error {
	level := zerolog.InfoLevel
	if config.Level != "" {
		parsed, err := zerolog.ParseLevel(config.Level)
		if err != nil {
			return fmt.Errorf("无效的日志级别 %q: %w", config.Level, err)
		}
		level = parsed
	}

	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	CloseLogger()
	zerolog.SetGlobalLevel(level)

	mainLog := rotatingFile(config, MainLogFile)
	errorLog := rotatingFile(config, ErrorLogFile)
	logFiles = []*lumberjack.Logger{mainLog, errorLog}

	console := config.Console
	if console == nil {
		console = os.Stdout
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
		NoColor:    config.NoColor,
		// 控制台不显示调用位置
		PartsExclude: []string{zerolog.CallerFieldName},
	}

	multiWriter := zerolog.MultiLevelWriter(
		consoleWriter,
		mainLog,
		&FilteredWriter{Writer: errorLog, MinLevel: zerolog.ErrorLevel},
	)

	// 快捷方法多一层调用
	Logger = zerolog.New(multiWriter).
		With().
		Timestamp().
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1).
		Logger()
	log.Logger = Logger

	Logger.Debug().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")

	return nil
}

func rotatingFile(config LogConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, name),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}

// CloseLogger 关闭日志文件,之后的日志被丢弃
func CloseLogger() {
	for _, f := range logFiles {
		f.Close()
	}
	logFiles = nil
	Logger = zerolog.Nop()
	log.Logger = Logger
}

// WithRoot 后续日志附带根节点和运行ID,返回恢复函数
// 只能在没有并发写日志时调用
func WithRoot(rootRefID, runID string) (restore func()) {
	prev := Logger
	Logger = prev.With().Str("root", rootRefID).Str("run_id", runID).Logger()
	log.Logger = Logger
	return func() {
		Logger = prev
		log.Logger = prev
	}
}

// FilteredWriter 只写入指定级别及以上的日志
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write 无级别信息的写入原样保留
func (w *FilteredWriter) Write(p []byte) (n int, err error) {
	return w.Writer.Write(p)
}

// WriteLevel 带级别的写入
func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level >= w.MinLevel {
		return w.Writer.Write(p)
	}
	return len(p), nil
}

// Info 信息日志
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// Warn 警告日志
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}
