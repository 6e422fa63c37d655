package config

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wippyai/gym-bridge/errors"
)

// Logger builds the process logger. Output goes to stderr, or to a
// rotated file when File is set.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log", "level").
			Cause(err).
			Detail("unknown level %q", l.Level).
			Build()
	}

	encCfg := zap.NewProductionEncoderConfig()
	if l.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if l.Development && l.File == "" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	opts := []zap.Option{zap.AddCaller()}
	if l.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewCore(enc, l.writer(), level), opts...), nil
}

func (l LogConfig) writer() zapcore.WriteSyncer {
	if l.File == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB, // megabytes
		MaxBackups: l.MaxBackups,
		Compress:   true,
	})
}
