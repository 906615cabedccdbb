package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "13m") and are parsed during validation.
type Config struct {
	Transport TransportConfig `json:"transport"`
	Room      RoomConfig      `json:"room"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Countdown CountdownConfig `json:"countdown"`
	Announcer AnnouncerConfig `json:"announcer"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Messages  MessagesConfig  `json:"messages"`
	Storage   StorageConfig   `json:"storage"`
	Debug     DebugConfig     `json:"debug"`
}

// TransportConfig selects the room driver: "stumble" (default) or "telegram".
type TransportConfig struct {
	Driver      string `json:"driver"`
	EventBuffer int    `json:"event_buffer,omitempty"` // default: 256
}

// RoomConfig configures the stumble websocket driver.
//
// Example:
//
//	"room": { "url": "wss://example.com/room", "room": "lobby", "join": true }
type RoomConfig struct {
	URL     string            `json:"url"`
	Room    string            `json:"room"`
	Token   string            `json:"token,omitempty"` // do not log
	Origin  string            `json:"origin,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Join    bool              `json:"join,omitempty"`

	ReadLimit    int64  `json:"read_limit,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
	ReconnectMin string `json:"reconnect_min,omitempty"` // default: "500ms"
	ReconnectMax string `json:"reconnect_max,omitempty"` // default: "30s"
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warn/error lines onto the event bus.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RateLimitConfig is the outbox spacing. Defaults: 1200ms / 500ms / 5s.
type RateLimitConfig struct {
	MessageDelay  string `json:"message_delay,omitempty"`
	PriorityDelay string `json:"priority_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HighWatermark int    `json:"high_watermark,omitempty"`
}

// CountdownConfig bounds .toke and tunes the checkpoint table. Zero values
// take the defaults; final_seconds 0 keeps the per-second tier disabled.
type CountdownConfig struct {
	MinSeconds int `json:"min_seconds,omitempty"` // default: 60
	MaxSeconds int `json:"max_seconds,omitempty"` // default: 240

	LongFrom      int    `json:"long_from,omitempty"`
	LongEvery     int    `json:"long_every,omitempty"`
	ShortFloor    int    `json:"short_floor,omitempty"`
	ShortEvery    int    `json:"short_every,omitempty"`
	FinalSeconds  int    `json:"final_seconds,omitempty"`
	FinishWithin  int    `json:"finish_within,omitempty"`
	FlourishEvery string `json:"flourish_every,omitempty"`
}

type AnnouncerConfig struct {
	// Timezone is an IANA name; empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	Tick     string `json:"tick,omitempty"` // default: "1s"

	TimeMatch *TriggerConfig `json:"time_match,omitempty"`
	Reminder  *TriggerConfig `json:"reminder,omitempty"`
	Rotation  *TriggerConfig `json:"rotation,omitempty"`
}

// TriggerConfig overrides one announcer trigger. Omitted fields keep the
// built-in defaults; pointers distinguish "omitted" from an explicit false.
//
// Schedule accepts a cron expression ("20 * * * *", "cron:0 20 * * * *")
// or an interval ("13m", "00:13", "every:13m").
type TriggerConfig struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Schedule  string   `json:"schedule,omitempty"`
	Window    string   `json:"window,omitempty"`
	Immediate *bool    `json:"immediate,omitempty"`
	Priority  *bool    `json:"priority,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

type DispatchConfig struct {
	Greet      *bool    `json:"greet,omitempty"` // default: true
	Moderators []string `json:"moderators,omitempty"`
	PingDelay  string   `json:"ping_delay,omitempty"` // default: "1s"
	// FloodRate is commands per second per sender. Negative disables the guard.
	FloodRate  float64 `json:"flood_rate,omitempty"`
	FloodBurst int     `json:"flood_burst,omitempty"`
}

// MessagesConfig overrides canned texts by key (see catalog keys).
type MessagesConfig struct {
	Texts      map[string]string `json:"texts,omitempty"`
	Greetings  []string          `json:"greetings,omitempty"`
	Flourishes []string          `json:"flourishes,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./roombot.db" }
type StorageConfig struct {
	Driver      string             `json:"driver"` // none|file|sqlite|postgres|redis
	Path        string             `json:"path,omitempty"`
	DSN         string             `json:"dsn,omitempty"` // do not log
	BusyTimeout string             `json:"busy_timeout,omitempty"`
	Redis       StorageRedisConfig `json:"redis,omitempty"`
	AuditKeep   int                `json:"audit_keep,omitempty"`
}

type StorageRedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// DebugConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
