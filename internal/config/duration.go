package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField reads a config duration. Empty, "0" and "off" mean unset
// and yield 0. Bare integers are seconds, so "30" and "30s" are equivalent.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "0", "off":
		return 0, nil
	}

	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 500ms, 30s, 2m)", path, raw)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for unset.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
