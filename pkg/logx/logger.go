package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Field is one key/value attached to a log line. Fields apply in order, so a
// repeated key keeps its last value.
type Field struct {
	apply func(e *zerolog.Event)
	err   error
}

func String(k, v string) Field  { return Field{apply: func(e *zerolog.Event) { e.Str(k, v) }} }
func Int(k string, v int) Field { return Field{apply: func(e *zerolog.Event) { e.Int(k, v) }} }
func Int64(k string, v int64) Field {
	return Field{apply: func(e *zerolog.Event) { e.Int64(k, v) }}
}
func Uint64(k string, v uint64) Field {
	return Field{apply: func(e *zerolog.Event) { e.Uint64(k, v) }}
}
func Bool(k string, v bool) Field { return Field{apply: func(e *zerolog.Event) { e.Bool(k, v) }} }
func Duration(k string, v time.Duration) Field {
	return Field{apply: func(e *zerolog.Event) { e.Dur(k, v) }}
}
func Time(k string, v time.Time) Field { return Field{apply: func(e *zerolog.Event) { e.Time(k, v) }} }
func Any(k string, v any) Field        { return Field{apply: func(e *zerolog.Event) { e.Interface(k, v) }} }

// Err attaches err. It is also the cause shown by the error sink.
func Err(err error) Field {
	return Field{err: err, apply: func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}}
}

// Logger is a cheap value type. Loggers derived from a Service follow its
// Apply calls. The zero value discards everything.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool

	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{base: zerolog.Nop(), hasBase: true} }

// NewWriter returns a standalone JSON logger on w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasBase && len(l.fields) == 0 }

func (l Logger) root() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.hasBase:
		return l.base
	default:
		return zerolog.Nop()
	}
}

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	zl := l.root()
	if e := zl.WithLevel(level); e != nil {
		if caller := shortCaller(3); caller != "" {
			e.Str(zerolog.CallerFieldName, caller)
		}
		for _, set := range [][]Field{l.fields, fields} {
			for _, f := range set {
				if f.apply != nil {
					f.apply(e)
				}
			}
		}
		e.Msg(msg)
	}
	if l.svc != nil {
		l.svc.forward(level, msg, cause(l.fields, fields))
	}
}

func cause(sets ...[]Field) error {
	var err error
	for _, set := range sets {
		for _, f := range set {
			if f.err != nil {
				err = f.err
			}
		}
	}
	return err
}

// shortCaller returns file:line of the frame skip levels up.
func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
