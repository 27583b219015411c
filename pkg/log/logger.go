package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured JSON logs.
//
// Records below the configured level are discarded, unless the logger's
// subsystem is one of the enabled subsystems (or a child of one), in which
// case every level is logged.
type Logger interface {
	Subsystem() string
	// WithSubsystem returns a logger for the given subsystem. The
	// subsystem is logged as the 'subsystem' field.
	WithSubsystem(s string) Logger
	With(fields ...zap.Field) Logger
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
	// StdLogger returns a standard library logger writing records at the
	// given level, for libraries that only accept a *log.Logger.
	StdLogger(level zapcore.Level) *stdlog.Logger
}

type logger struct {
	// base has no level filtering and no fields.
	base   zapcore.Core
	fields []zap.Field

	level             zapcore.Level
	subsystem         string
	enabledSubsystems []string

	zl *zap.Logger
}

// NewLogger creates a logger writing to stderr.
func NewLogger(lvl string, enabledSubsystems []string) (Logger, error) {
	sink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	return newLogger(lvl, enabledSubsystems, sink)
}

// NewLoggerWithOutput creates a logger writing to w.
func NewLoggerWithOutput(lvl string, enabledSubsystems []string, w io.Writer) (Logger, error) {
	return newLogger(lvl, enabledSubsystems, zapcore.AddSync(w))
}

func newLogger(
	lvl string,
	enabledSubsystems []string,
	sink zapcore.WriteSyncer,
) (Logger, error) {
	level, err := zapLevelFromString(lvl)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.NameKey = "subsystem"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)

	l := &logger{
		base: zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig), sink, zapcore.DebugLevel,
		),
		level:             level,
		subsystem:         "main",
		enabledSubsystems: enabledSubsystems,
	}
	l.build()
	return l, nil
}

func (l *logger) Subsystem() string {
	return l.subsystem
}

func (l *logger) WithSubsystem(s string) Logger {
	if s == l.subsystem {
		return l
	}
	clone := *l
	clone.subsystem = s
	clone.build()
	return &clone
}

func (l *logger) With(fields ...zap.Field) Logger {
	if len(fields) == 0 {
		return l
	}
	clone := *l
	clone.fields = append(append([]zap.Field(nil), l.fields...), fields...)
	clone.build()
	return &clone
}

func (l *logger) Debug(msg string, fields ...zap.Field) {
	l.zl.Debug(msg, fields...)
}

func (l *logger) Info(msg string, fields ...zap.Field) {
	l.zl.Info(msg, fields...)
}

func (l *logger) Warn(msg string, fields ...zap.Field) {
	l.zl.Warn(msg, fields...)
}

func (l *logger) Error(msg string, fields ...zap.Field) {
	l.zl.Error(msg, fields...)
}

func (l *logger) Sync() error {
	return l.zl.Sync()
}

func (l *logger) StdLogger(level zapcore.Level) *stdlog.Logger {
	std, err := zap.NewStdLogAt(l.zl, level)
	if err != nil {
		// Only fails for levels above fatal.
		return zap.NewStdLog(l.zl)
	}
	return std
}

// build rebuilds the zap logger from the subsystem, level and fields.
func (l *logger) build() {
	level := l.level
	enabled := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level
	})
	if subsystemMatch(l.subsystem, l.enabledSubsystems) {
		enabled = func(zapcore.Level) bool { return true }
	}

	core := &filterCore{Core: l.base.With(l.fields), enabled: enabled}
	l.zl = zap.New(
		core, zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	).Named(l.subsystem)
}

// NewNopLogger returns a logger that discards all records.
func NewNopLogger() Logger {
	l := &logger{
		base:  zapcore.NewNopCore(),
		level: zapcore.InvalidLevel,
	}
	l.zl = zap.NewNop()
	return l
}

// subsystemMatch returns whether the subsystem is enabled. Enabling a
// subsystem also enables its children, such as 'client' enables
// 'client.connect'.
func subsystemMatch(subsystem string, enabled []string) bool {
	for _, s := range enabled {
		if subsystem == s || strings.HasPrefix(subsystem, s+".") {
			return true
		}
	}
	return false
}

func zapLevelFromString(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.InvalidLevel, fmt.Errorf("unsupported level: %s", s)
	}
}

// filterCore replaces the wrapped core's level check with enabled.
type filterCore struct {
	zapcore.Core
	enabled zap.LevelEnablerFunc
}

func (c *filterCore) Enabled(lvl zapcore.Level) bool {
	return c.enabled(lvl)
}

func (c *filterCore) With(fields []zap.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), enabled: c.enabled}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c.Core)
}
