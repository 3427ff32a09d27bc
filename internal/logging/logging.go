package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}

// global log level (debug|info|warn|error|fatal), shared by every logger built by New
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

type zapLogger struct {
	z *zap.Logger
	s *zap.SugaredLogger
}

// Options control the encoder and level; empty values fall back to LOG_LEVEL and LOG_JSON.
type Options struct {
	Level string
	JSON  *bool
}

// New creates a logger; honors env vars LOG_LEVEL (debug|info|warn|error), LOG_JSON (true|false).
func New(env string) Logger {
	return NewWithOptions(env, Options{})
}

func NewWithOptions(env string, o Options) Logger {
	lvl := o.Level
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	SetLevel(lvl)
	j := os.Getenv("LOG_JSON") != "false"
	if o.JSON != nil {
		j = *o.JSON
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	var enc zapcore.Encoder
	if j {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("env", env))
	return &zapLogger{z: z, s: z.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	z := zap.NewNop()
	return &zapLogger{z: z, s: z.Sugar()}
}

// Zap exposes the underlying zap logger for libraries that need one (gin access logs).
func Zap(l Logger) *zap.Logger {
	if zl, ok := l.(*zapLogger); ok {
		return zl.z.WithOptions(zap.AddCallerSkip(-1))
	}
	return zap.NewNop()
}

// Level control
func SetLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	case "fatal":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func GetLevel() string { return level.Level().String() }

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Fatal(msg string, kv ...any) { l.s.Fatalw(msg, kv...) }

// MaskKey keeps the first and last four characters of an access key.
func MaskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}
