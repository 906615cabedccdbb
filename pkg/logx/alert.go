package logx

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Alert is a decoded log line handed to the alert sink.
type Alert struct {
	Level   string
	Message string
	Fields  map[string]string
}

// AlertFunc receives alerts. It runs on the logging goroutine and must not block.
type AlertFunc func(Alert)

const (
	maxAlertMessage = 1000
	maxAlertField   = 600
)

// alertSink is a zerolog.LevelWriter that forwards qualifying lines to fn.
type alertSink struct {
	mu  sync.Mutex
	fn  AlertFunc
	lim *rate.Limiter
	min Level
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.min = parseLevel(cfg.MinLevel, LevelWarn)
	a.lim = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
}

func (a *alertSink) setFunc(fn AlertFunc) {
	a.mu.Lock()
	a.fn = fn
	a.mu.Unlock()
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level Level, p []byte) (int, error) {
	a.mu.Lock()
	fn, lim, floor := a.fn, a.lim, a.min
	a.mu.Unlock()

	if fn != nil && lim != nil && level >= floor && lim.Allow() {
		fn(decodeAlert(level, p))
	}
	return len(p), nil
}

func decodeAlert(level Level, p []byte) Alert {
	out := Alert{Level: level.String(), Fields: map[string]string{}}

	var line map[string]any
	if err := json.Unmarshal(p, &line); err != nil {
		out.Message = clip(strings.TrimSpace(string(p)), maxAlertMessage)
		return out
	}
	for k, v := range line {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName:
		case zerolog.MessageFieldName:
			out.Message, _ = v.(string)
		default:
			out.Fields[k] = clip(fmt.Sprint(v), maxAlertField)
		}
	}
	return out
}

// clip shortens s to at most n bytes, marking the cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
