package announcer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is the normalized kind of a trigger schedule.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec is a parsed trigger schedule.
//
// Supported forms:
//   - Cron: "20 * * * *", "@hourly", "0 */2 * * *" (optional leading seconds field)
//   - Interval duration: "13m", "1h30m"
//   - Interval HH:MM: "00:13" (13 minutes), "02:30"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
type Spec struct {
	Kind   SpecKind
	Cron   cron.Schedule
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
	Raw    string
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), raw)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]), raw)
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]), raw)
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s, raw)
	}

	sp, err := parseInterval(s, raw)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '20 * * * *', HH:MM like '00:13', or duration like '13m')", raw)
	}
	return sp, nil
}

func parseCron(expr, raw string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: sched, Source: "cron", Raw: raw}, nil
}

func parseInterval(v, raw string) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "hhmm", Raw: raw}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '13m')", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Kind: SpecInterval, Every: d, Source: "duration", Raw: raw}, nil
}

// slot returns the minute slot containing now if the cron schedule activates
// at that minute.
func (s Spec) slot(now time.Time) (time.Time, bool) {
	if s.Kind != SpecCron || s.Cron == nil {
		return time.Time{}, false
	}
	start := now.Truncate(time.Minute)
	next := s.Cron.Next(start.Add(-time.Second))
	if !next.Equal(start) {
		return time.Time{}, false
	}
	return start, true
}
