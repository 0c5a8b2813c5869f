package logger

import (
	"os"

	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide relay logger. Library types take an explicit
// *zap.Logger and fall back to it through Or.
var Log *zap.Logger

// Options controls how InitLoggerWithOptions builds the global logger.
type Options struct {
	Level string
	Stage string
	JSON  bool
	Color bool
	// Fields are attached to every entry, e.g. the sponsor address and chain.
	Fields map[string]interface{}
}

// InitLogger builds the global logger for a deployment stage. prod gets
// JSON output; everything else gets the console encoder. The test stage
// defaults to warn so suites stay quiet unless LOG_LEVEL is set.
func InitLogger(stage string) {
	def := "info"
	if stage == "test" {
		def = "warn"
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = def
	}

	InitLoggerWithOptions(Options{
		Level: level,
		Stage: stage,
		JSON:  stage == constants.ProdEnvironment,
		Color: stage != constants.ProdEnvironment,
	})
}

// InitLoggerWithOptions replaces the global logger.
func InitLoggerWithOptions(opts Options) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.InitialFields = map[string]interface{}{
			"service": constants.ServiceName,
			"stage":   opts.Stage,
		}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		if opts.Color {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = opts.JSON && level > zapcore.DebugLevel

	for k, v := range opts.Fields {
		if cfg.InitialFields == nil {
			cfg.InitialFields = make(map[string]interface{}, len(opts.Fields))
		}
		cfg.InitialFields[k] = v
	}

	l, err := cfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	Log = l
}

// Annotate attaches fields to every subsequent entry of the global logger.
// The server calls it once the sponsor and chain are known.
func Annotate(fields ...zapcore.Field) {
	Log = Or(nil).With(fields...)
}

// Or returns l, falling back to the global logger and finally to a no-op
// logger so library types stay usable before InitLogger runs.
func Or(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	if Log != nil {
		return Log
	}
	return zap.NewNop()
}

func Info(msg string, fields ...zapcore.Field) {
	Or(nil).Info(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	Or(nil).Error(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	Or(nil).Debug(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	Or(nil).Warn(msg, fields...)
}

// Fatal logs and exits with status 1.
func Fatal(msg string, fields ...zapcore.Field) {
	Or(nil).Fatal(msg, fields...)
}

// Sync flushes buffered entries.
func Sync() error {
	return Or(nil).Sync()
}
