package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.SetEnvLookup(noEnv)
	return m
}

const jsonCfg = `{
  "room": {"url": "wss://example.test/room", "room": "lobby"},
  "rate_limit": {"message_delay": "1500ms"},
  "countdown": {"min_seconds": 30, "max_seconds": 90}
}`

func TestLoadFormats(t *testing.T) {
	cases := map[string]string{
		"bot.json": jsonCfg,
		"bot.yaml": `
room:
  url: wss://example.test/room
  room: lobby
rate_limit:
  message_delay: 1500ms
countdown:
  min_seconds: 30
  max_seconds: 90
`,
		"bot.toml": `
[room]
url = "wss://example.test/room"
room = "lobby"

[rate_limit]
message_delay = "1500ms"

[countdown]
min_seconds = 30
max_seconds = 90
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			m := newManager(writeFile(t, name, body))
			cfg, err := m.Load(context.Background())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Room.URL != "wss://example.test/room" || cfg.Room.Room != "lobby" {
				t.Fatalf("room: %+v", cfg.Room)
			}
			if cfg.RateLimit.MessageDelay != "1500ms" {
				t.Fatalf("rate_limit: %+v", cfg.RateLimit)
			}
			if cfg.Countdown.MinSeconds != 30 || cfg.Countdown.MaxSeconds != 90 {
				t.Fatalf("countdown: %+v", cfg.Countdown)
			}
			if m.Get() != cfg {
				t.Fatal("Load must commit")
			}
		})
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	m := newManager(writeFile(t, "bot.yaml", "room:\n  url: x\n  bogus: 1\n"))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestTrailingDataRejected(t *testing.T) {
	m := newManager(writeFile(t, "bot.json", `{"room":{"url":"x"}} {}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"ROOMBOT_ROOM_TOKEN":       "s3cret",
		"ROOMBOT_TRANSPORT":        "telegram",
		"ROOMBOT_TELEGRAM_TOKEN":   "123:abc",
		"ROOMBOT_TELEGRAM_CHAT_ID": "-1001",
	}
	m := NewConfigManager(writeFile(t, "bot.json", jsonCfg))
	m.SetEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room.Token != "s3cret" || cfg.Transport.Driver != "telegram" || cfg.Telegram.ChatID != -1001 {
		t.Fatalf("overrides not applied: %+v %+v %+v", cfg.Room, cfg.Transport, cfg.Telegram)
	}

	env["ROOMBOT_TELEGRAM_CHAT_ID"] = "nope"
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected chat id parse error")
	}
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	p := writeFile(t, ".env", "ROOMBOT_TEST_DOTENV=42\n")
	t.Setenv("ROOMBOT_TEST_DOTENV", "")
	os.Unsetenv("ROOMBOT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("ROOMBOT_TEST_DOTENV"); got != "42" {
		t.Fatalf("got %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{Room: RoomConfig{URL: "ws://x"}}, ""},
		{"missing url", Config{}, "room.url"},
		{"unknown transport", Config{Transport: TransportConfig{Driver: "irc"}}, "transport.driver"},
		{"telegram needs token", Config{Transport: TransportConfig{Driver: "telegram"}, Telegram: TelegramConfig{ChatID: 1}}, "telegram.token"},
		{"bad duration", Config{Room: RoomConfig{URL: "ws://x"}, RateLimit: RateLimitConfig{MessageDelay: "fast"}}, "rate_limit.message_delay"},
		{"negative duration", Config{Room: RoomConfig{URL: "ws://x"}, Dispatch: DispatchConfig{PingDelay: "-1s"}}, "dispatch.ping_delay"},
		{"range", Config{Room: RoomConfig{URL: "ws://x"}, Countdown: CountdownConfig{MinSeconds: 90, MaxSeconds: 60}}, "max_seconds"},
		{"timezone", Config{Room: RoomConfig{URL: "ws://x"}, Announcer: AnnouncerConfig{Timezone: "Mars/Olympus"}}, "announcer.timezone"},
		{"window", Config{Room: RoomConfig{URL: "ws://x"}, Announcer: AnnouncerConfig{TimeMatch: &TriggerConfig{Window: "soon"}}}, "time_match.window"},
		{"postgres dsn", Config{Room: RoomConfig{URL: "ws://x"}, Storage: StorageConfig{Driver: "postgres"}}, "storage.dsn"},
		{"debug exposed", Config{Room: RoomConfig{URL: "ws://x"}, Debug: DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, "not loopback"},
		{"debug token", Config{Room: RoomConfig{URL: "ws://x"}, Debug: DebugConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			switch {
			case tc.want == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tc.want != "" && (err == nil || !strings.Contains(err.Error(), tc.want)):
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"":               true,
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
	} {
		if got := IsLoopbackAddr(addr); got != want {
			t.Errorf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	p := writeFile(t, "bot.json", jsonCfg)
	m := newManager(p)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ok, err := m.Reload(context.Background())
	if err != nil || ok {
		t.Fatalf("unchanged reload: ok=%v err=%v", ok, err)
	}

	updated := strings.Replace(jsonCfg, "1500ms", "900ms", 1)
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	ok, err = m.Reload(context.Background())
	if err != nil || !ok {
		t.Fatalf("changed reload: ok=%v err=%v", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.RateLimit.MessageDelay != "900ms" {
			t.Fatalf("published %+v", cfg.RateLimit)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestReloadKeepsPreviousOnRejection(t *testing.T) {
	p := writeFile(t, "bot.json", jsonCfg)
	m := newManager(p)
	prev, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(`{"room":{"url":""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); ok || err == nil {
		t.Fatalf("expected rejection, ok=%v err=%v", ok, err)
	}
	if m.Get() != prev {
		t.Fatal("previous config must stay committed")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	p := writeFile(t, "bot.json", jsonCfg)
	m := newManager(p)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(jsonCfg, "1500ms", "700ms", 1)
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.RateLimit.MessageDelay != "700ms" {
			t.Fatalf("published %+v", cfg.RateLimit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not publish")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Room: RoomConfig{URL: "ws://x", Token: "one"}}
	b := &Config{Room: RoomConfig{URL: "ws://x", Token: "two"}, Dispatch: DispatchConfig{Moderators: []string{"h1"}}}
	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "room,dispatch" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "room" {
		t.Fatalf("restart = %v", got)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 5*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "off", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("off: d=%v err=%v", d, err)
	}
}

func TestParseDurationField(t *testing.T) {
	cases := map[string]time.Duration{
		"":     0,
		"0":    0,
		" 30 ": 30 * time.Second,
		"2m":   2 * time.Minute,
		"OFF":  0,
	}
	for in, want := range cases {
		got, err := ParseDurationField("x", in)
		if err != nil || got != want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"soon", "-5s", "-3"} {
		if _, err := ParseDurationField("rate_limit.message_delay", bad); err == nil || !strings.Contains(err.Error(), "rate_limit.message_delay") {
			t.Fatalf("ParseDurationField(%q) err = %v", bad, err)
		}
	}
}
