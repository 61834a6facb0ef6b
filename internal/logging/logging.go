package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Joseda-hg/notegrid/internal/config"
)

// Logger wraps zap.SugaredLogger so callers can hand out per-component
// children.
type Logger struct {
	*zap.SugaredLogger
	sink *lumberjack.Logger
}

// New builds a logger from cfg. With cfg.File set, output goes to a rotating
// file; otherwise it goes to stderr so stdout stays free for command output.
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if cfg.File != "" {
		if err := config.EnsureDir(cfg.File); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(sink), level)
		return &Logger{SugaredLogger: zap.New(core, zap.AddCaller()).Sugar(), sink: sink}, nil
	}

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) WithComponent(component string) *zap.SugaredLogger {
	return l.SugaredLogger.With("component", component)
}

// Close flushes buffered entries and releases the log file.
func (l *Logger) Close() error {
	_ = l.SugaredLogger.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}
