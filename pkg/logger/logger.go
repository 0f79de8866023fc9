package logger

import (
	"deltaflow/conf"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 全局日志，InitLogger 之前使用控制台输出兜底
var std = newConsoleLogger()

// InitLogger 根据配置初始化全局日志
// 支持文件滚动(lumberjack)和控制台输出
func InitLogger(cfg *conf.LogConfig) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02 15:04:05.000"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.TimeKey = "time"

	var cores []zapcore.Core
	if cfg.FileName != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level))
	}
	if cfg.Console || cfg.FileName == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stdout), level))
	}

	std = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func newConsoleLogger() *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	return zap.New(core, zap.AddCallerSkip(1)).Sugar()
}

// Default 返回底层zap logger
func Default() *zap.SugaredLogger { return std }

// Pair 构造一个结构化字段
func Pair(key string, value interface{}) interface{} {
	return zap.Any(key, value)
}

func Info(msg string, pairs ...interface{})  { std.Infow(msg, pairs...) }
func Warn(msg string, pairs ...interface{})  { std.Warnw(msg, pairs...) }
func Error(msg string, pairs ...interface{}) { std.Errorw(msg, pairs...) }
func Fatal(msg string, pairs ...interface{}) { std.Fatalw(msg, pairs...) }

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }
