package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// Logger is a value-type handle onto a zerolog root. Loggers derived from a
// Service follow its Apply calls. The zero value discards everything.
type Logger struct {
	svc    *Service
	static *zerolog.Logger
	fields []Field
}

func fixed(zl zerolog.Logger) Logger { return Logger{static: &zl} }

// Nop returns a logger that never writes anything.
func Nop() Logger { return fixed(zerolog.Nop()) }

// NewConsole is a standalone console logger for use before a Service exists.
func NewConsole(level string) Logger {
	return fixed(newRoot(consoleSink(os.Stdout), parseLevel(level, LevelInfo)))
}

// NewWriter writes JSON lines to w. Tests use it to capture output.
func NewWriter(w io.Writer, level string) Logger {
	return fixed(newRoot(w, parseLevel(level, LevelDebug)))
}

func (l Logger) IsZero() bool { return l.svc == nil && l.static == nil && len(l.fields) == 0 }

func (l Logger) zl() *zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.static != nil:
		return l.static
	}
	return nil
}

// Enabled reports whether a line at level would be written.
func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return zl != nil && level >= zl.GetLevel()
}

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) > 0 {
		l.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	}
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

// emit must be called directly from the level methods so the caller depth
// stays fixed.
func (l Logger) emit(level Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func newRoot(w io.Writer, level Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func consoleSink(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func parseLevel(s string, def Level) Level {
	switch strings.ToLower(trim(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return def
}

func trim(s string) string { return strings.TrimSpace(s) }
