package main

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "marmot-sync.log"

// newLogger writes JSON lines to a rotating file in dataDir. With debug set
// it logs at debug level and also mirrors to console, which must stay nil
// while the terminal monitor owns the screen.
func newLogger(dataDir string, debug bool, console io.Writer) (*zap.SugaredLogger, io.Closer, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, err
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, logFileName),
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	de := zap.NewDevelopmentEncoderConfig()
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(de), zapcore.AddSync(writer), level),
	}
	if debug && console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(de), zapcore.AddSync(console), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.Fields(zap.String("source", "marmot-sync")))
	return logger.Sugar(), writer, nil
}
