package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
)

const defaultLogLevel = zapcore.InfoLevel

// NewLogger builds a JSON zap logger whose field names match Cloud Logging's structured format.
// LOG_LEVEL selects the minimum level; unknown values fall back to info.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), "stdout")
}

func newLogger(levelName string, output string) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(defaultLogLevel)
	if name := strings.ToLower(strings.TrimSpace(levelName)); name != "" {
		if err := level.UnmarshalText([]byte(name)); err != nil {
			level.SetLevel(defaultLogLevel)
		}
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			NameKey:       "logger",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// ServiceLogger adapts zap to the event-plus-fields logging hook that services accept. The
// request-scoped logger is preferred so entries carry request and trace ids.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			if err, ok := value.(error); ok {
				zapFields = append(zapFields, zap.NamedError(key, err))
				continue
			}
			zapFields = append(zapFields, zap.Any(key, value))
		}
		if level := levelForEvent(event); level == zapcore.WarnLevel {
			logger.Warn(event, zapFields...)
		} else {
			logger.Info(event, zapFields...)
		}
	}
}

// Events ending in these suffixes describe swallowed failures and are logged at warn.
var warnSuffixes = []string{"_failed", ".failed", "_rejected", ".rejected", ".panic"}

func levelForEvent(event string) zapcore.Level {
	for _, suffix := range warnSuffixes {
		if strings.HasSuffix(event, suffix) {
			return zapcore.WarnLevel
		}
	}
	return zapcore.InfoLevel
}

// PrintfAdapter adapts zap to printf-style logger interfaces.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// Printf logs at info.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}
