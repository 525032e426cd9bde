package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	once sync.Once
	base *zap.SugaredLogger
)

// Get lazily builds the process-wide logger and returns the same instance
// on every subsequent call.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		base = build()
	})

	return base
}

func build() *zap.SugaredLogger {
	stdout := zapcore.AddSync(os.Stdout)

	level := zap.InfoLevel
	if levelEnv := os.Getenv("LOG_LEVEL"); levelEnv != "" {
		parsed, err := zapcore.ParseLevel(levelEnv)
		if err != nil {
			log.Println(fmt.Errorf("invalid LOG_LEVEL, defaulting to info: %w", err))
		} else {
			level = parsed
		}
	}

	encoder := zapcore.NewConsoleEncoder(devEncoderConfig())
	if os.Getenv("JSON_LOG") != "" {
		encoder = zapcore.NewJSONEncoder(prodEncoderConfig())
	}

	core := zapcore.NewCore(encoder, stdout, zap.NewAtomicLevelAt(level))
	core = core.With(buildInfoFields())

	return zap.New(core).Sugar()
}

func devEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func prodEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// buildInfoFields attaches the go version and, when available, a short
// git revision to every log line so a report can be tied back to a build.
func buildInfoFields() []zapcore.Field {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	fields := []zapcore.Field{zap.String("go_version", info.GoVersion)}
	for _, setting := range info.Settings {
		if setting.Key != "vcs.revision" {
			continue
		}

		rev := setting.Value
		if len(rev) > 7 {
			rev = rev[:7]
		}
		fields = append(fields, zap.String("git_revision", rev))
		break
	}

	return fields
}

// FromCtx returns the logger attached to ctx, falling back to the process
// logger when none is attached.
func FromCtx(ctx context.Context, with ...any) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
		return l.With(with...)
	}

	return Get().With(with...)
}

// WithCtx returns a copy of ctx carrying l as its logger.
func WithCtx(ctx context.Context, l *zap.SugaredLogger) context.Context {
	if existing, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && existing == l {
		return ctx
	}

	return context.WithValue(ctx, ctxKey{}, l)
}
