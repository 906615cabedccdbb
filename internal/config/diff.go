package config

import (
	"reflect"
	"strings"

	"roombot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	o, n := oldCfg, newCfg
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)
	section := func(name string, a, b any, fields ...logx.Field) {
		if reflect.DeepEqual(a, b) {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	section("transport", o.Transport, n.Transport,
		logx.String("transport.driver", n.Transport.Driver))
	section("room", o.Room, n.Room,
		logx.String("room.url", n.Room.URL),
		logx.String("room.room", n.Room.Room),
		logx.Bool("room.token_set", strings.TrimSpace(n.Room.Token) != ""),
	)
	section("telegram", o.Telegram, n.Telegram,
		logx.Int64("telegram.chat_id", n.Telegram.ChatID),
		logx.Bool("telegram.token_set", strings.TrimSpace(n.Telegram.Token) != ""),
	)
	section("logging", o.Logging, n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.console", n.Logging.Console),
		logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
		logx.Bool("logging.alerts_enabled", n.Logging.Alerts.Enabled),
	)
	section("rate_limit", o.RateLimit, n.RateLimit,
		logx.String("rate_limit.message_delay", n.RateLimit.MessageDelay),
		logx.String("rate_limit.priority_delay", n.RateLimit.PriorityDelay),
	)
	section("countdown", o.Countdown, n.Countdown,
		logx.Int("countdown.min_seconds", n.Countdown.MinSeconds),
		logx.Int("countdown.max_seconds", n.Countdown.MaxSeconds),
		logx.Int("countdown.final_seconds", n.Countdown.FinalSeconds),
	)
	section("announcer", o.Announcer, n.Announcer,
		logx.String("announcer.timezone", n.Announcer.Timezone))
	section("dispatch", o.Dispatch, n.Dispatch,
		logx.Int("dispatch.moderators", len(n.Dispatch.Moderators)),
		logx.Float64("dispatch.flood_rate", n.Dispatch.FloodRate),
	)
	section("messages", o.Messages, n.Messages,
		logx.Int("messages.texts", len(n.Messages.Texts)),
		logx.Int("messages.greetings", len(n.Messages.Greetings)),
	)
	section("storage", o.Storage, n.Storage,
		logx.String("storage.driver", n.Storage.Driver))
	section("debug", o.Debug, n.Debug,
		logx.Bool("debug.enabled", n.Debug.Enabled),
		logx.String("debug.addr", n.Debug.Addr),
		logx.Bool("debug.token_set", strings.TrimSpace(n.Debug.Token) != ""),
	)

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "transport", "room", "telegram", "storage", "debug":
			out = append(out, s)
		}
	}
	return out
}
