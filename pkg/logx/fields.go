package logx

import (
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Later fields win on duplicate keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field          { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field         { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field     { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field   { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field       { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Float64(k string, v float64) Field { return func(e *zerolog.Event) { e.Float64(k, v) } }
func Time(k string, v time.Time) Field  { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field         { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Duration renders as a Go duration string ("1.5s") rather than zerolog's
// default float milliseconds.
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, v.String()) }
}

// Err is a no-op for nil errors.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Stack attaches a stack trace; blank traces are skipped.
func Stack(stack string) Field {
	if strings.TrimSpace(stack) == "" {
		return nil
	}
	return func(e *zerolog.Event) { e.Str("stack", stack) }
}

const maxStackFrames = 24

// StackTrace captures the caller's stack as "func (file:line)" lines for use
// with Stack. Runtime frames are omitted.
func StackTrace() string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var lines []string
	for {
		fr, more := frames.Next()
		if fr.File != "" && !strings.HasPrefix(fr.Function, "runtime.") {
			lines = append(lines, fr.Function+" ("+fr.File+":"+strconv.Itoa(fr.Line)+")")
		}
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}
