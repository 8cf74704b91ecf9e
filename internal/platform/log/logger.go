package log

import (
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger = zap.Logger

var (
	Any   = zap.Any
	Err   = zap.Error
	Str   = zap.String
	Int   = zap.Int
	Int64 = zap.Int64
	Bool  = zap.Bool
)

// Dec logs a monetary amount as its exact decimal string.
func Dec(key string, d decimal.Decimal) zap.Field {
	return zap.String(key, d.String())
}

type Options struct {
	Env   string
	Level string
	// File enables an additional rotating JSON log file.
	File string
}

func New(opts Options) *Logger {
	level := zap.InfoLevel
	if opts.Env != "prod" {
		level = zap.DebugLevel
	}
	if opts.Level != "" {
		if l, err := zapcore.ParseLevel(opts.Level); err == nil {
			level = l
		}
	}

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if opts.Env == "prod" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}
	if opts.File != "" {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			}),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func NewNop() *Logger {
	return zap.NewNop()
}
