package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate performs static checks. Schedule grammar and policy consistency
// are checked by the components when the config is mapped onto them.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Transport.Driver)) {
	case "", "stumble":
		if strings.TrimSpace(c.Room.URL) == "" {
			add(errors.New("room.url is required for the stumble transport"))
		}
	case "telegram":
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add(errors.New("telegram.token is required for the telegram transport"))
		}
		if c.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id is required for the telegram transport"))
		}
	default:
		add(fmt.Errorf("transport.driver: unknown driver %q", c.Transport.Driver))
	}
	if c.Transport.EventBuffer < 0 {
		add(errors.New("transport.event_buffer must be >= 0"))
	}

	dur("room.ping_interval", c.Room.PingInterval)
	dur("room.reconnect_min", c.Room.ReconnectMin)
	dur("room.reconnect_max", c.Room.ReconnectMax)
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	dur("rate_limit.message_delay", c.RateLimit.MessageDelay)
	dur("rate_limit.priority_delay", c.RateLimit.PriorityDelay)
	dur("rate_limit.send_timeout", c.RateLimit.SendTimeout)
	if c.RateLimit.HighWatermark < 0 {
		add(errors.New("rate_limit.high_watermark must be >= 0"))
	}

	cd := c.Countdown
	if cd.MinSeconds < 0 || cd.MaxSeconds < 0 {
		add(errors.New("countdown: min_seconds and max_seconds must be >= 0"))
	}
	if cd.MinSeconds > 0 && cd.MaxSeconds > 0 && cd.MaxSeconds < cd.MinSeconds {
		add(fmt.Errorf("countdown: max_seconds (%d) below min_seconds (%d)", cd.MaxSeconds, cd.MinSeconds))
	}
	dur("countdown.flourish_every", cd.FlourishEvery)

	if tz := strings.TrimSpace(c.Announcer.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("announcer.timezone: %w", err))
		}
	}
	dur("announcer.tick", c.Announcer.Tick)
	for name, t := range map[string]*TriggerConfig{
		"time_match": c.Announcer.TimeMatch,
		"reminder":   c.Announcer.Reminder,
		"rotation":   c.Announcer.Rotation,
	} {
		if t != nil {
			dur("announcer."+name+".window", t.Window)
		}
	}

	dur("dispatch.ping_delay", c.Dispatch.PingDelay)
	if c.Dispatch.FloodBurst < 0 {
		add(errors.New("dispatch.flood_burst must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for redis"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if c.Debug.Enabled {
		dur("debug.read_timeout", c.Debug.ReadTimeout)
		dur("debug.write_timeout", c.Debug.WriteTimeout)
		dur("debug.idle_timeout", c.Debug.IdleTimeout)
		if !IsLoopbackAddr(c.Debug.Addr) && strings.TrimSpace(c.Debug.Token) == "" && !c.Debug.AllowInsecure {
			add(fmt.Errorf("debug.addr %q is not loopback; set debug.token or debug.allow_insecure", c.Debug.Addr))
		}
	}

	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a listen address stays on the local host.
// An empty address means the default loopback bind.
func IsLoopbackAddr(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
