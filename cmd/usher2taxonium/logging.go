package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds a console logger on w. When file is set, entries are
// also written as JSON to a rotating log file. The returned func syncs
// and closes everything.
func newLogger(w io.Writer, level, file string) (*zap.Logger, func(), error) {
	lvl := zapcore.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		var err error
		lvl, err = zapcore.ParseLevel(s)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level: %w", err)
		}
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("Jan _2 15:04:05.000")
	encoderConfig.StacktraceKey = ""
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), lvl),
	}

	var logWriter *lumberjack.Logger
	if strings.TrimSpace(file) != "" {
		logWriter = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    viper.GetInt(logMaxSizeKey),
			MaxBackups: viper.GetInt(logMaxBackupsKey),
			MaxAge:     viper.GetInt(logMaxAgeKey),
			Compress:   viper.GetBool(logCompressKey),
		}
		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(logWriter), lvl))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeLog := func() {
		_ = logger.Sync()
		if logWriter != nil {
			_ = logWriter.Close()
		}
	}
	return logger, closeLog, nil
}
